package notify

import (
	"github.com/scrollDynasty/softforlogic-sub000/lib/restyutil"
)

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput enables request/response dumps for every
// sink built after the call. Wired by the binaries in verbose mode.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
