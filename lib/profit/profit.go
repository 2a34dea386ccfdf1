package profit

import (
	"strings"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Analysis is the economics of a single load. Derived entirely from the
// RawLoad and the estimator config, never persisted on its own.
type Analysis struct {
	TotalMiles    float64
	RatePerMile   float64
	DeadheadRatio float64
	FuelCost      float64
	GrossProfit   float64
	QualityScore  int
	Priority      Priority
	Score         float64
	Profitable    bool
}

type Config struct {
	// BaseRatePerMile synthesizes a minimum acceptable rate for
	// postings that carry no quote.
	BaseRatePerMile float64 `json:"base_rate_per_mile"`
	TruckMPG        float64 `json:"truck_mpg"`
	FuelPrice       float64 `json:"fuel_price"`
	// PreferredEquipment earns a quality bonus on exact
	// (case-insensitive) equipment type match.
	PreferredEquipment []string `json:"preferred_equipment"`
}

func DefaultConfig() Config {
	return Config{
		BaseRatePerMile: 1.7,
		TruckMPG:        6.5,
		FuelPrice:       4.0,
	}
}

type Estimator struct {
	config Config
}

func NewEstimator(config Config) Estimator {
	if config.BaseRatePerMile <= 0 {
		config.BaseRatePerMile = 1.7
	}
	if config.TruckMPG <= 0 {
		config.TruckMPG = 6.5
	}
	if config.FuelPrice <= 0 {
		config.FuelPrice = 4.0
	}
	return Estimator{config: config}
}

// Evaluate never fails; a load with zero total miles comes back with
// every ratio zeroed and Profitable=false.
func (e Estimator) Evaluate(load loads.RawLoad) Analysis {
	totalMiles := load.Miles + load.Deadhead
	if totalMiles <= 0 {
		return Analysis{Priority: PriorityLow}
	}

	rate := load.Rate
	if rate <= 0 {
		rate = totalMiles * e.config.BaseRatePerMile
	}

	ratePerMile := rate / totalMiles
	deadheadRatio := load.Deadhead / totalMiles
	fuelCost := (totalMiles / e.config.TruckMPG) * e.config.FuelPrice
	grossProfit := rate - fuelCost

	quality := 0
	switch {
	case ratePerMile >= 2.0:
		quality += 3
	case ratePerMile >= 1.8:
		quality += 2
	case ratePerMile >= 1.5:
		quality += 1
	}
	switch {
	case deadheadRatio <= 0.1:
		quality += 2
	case deadheadRatio <= 0.2:
		quality += 1
	}
	if totalMiles >= 200 {
		quality += 1
	}
	if e.preferredEquipment(load.Equipment) {
		quality += 1
	}
	if load.PickupDate != "" {
		quality += 1
	}

	priority := PriorityLow
	switch {
	case quality >= 5 && ratePerMile >= 2.0:
		priority = PriorityHigh
	case quality >= 3 && ratePerMile >= 1.5:
		priority = PriorityMedium
	}

	return Analysis{
		TotalMiles:    totalMiles,
		RatePerMile:   ratePerMile,
		DeadheadRatio: deadheadRatio,
		FuelCost:      fuelCost,
		GrossProfit:   grossProfit,
		QualityScore:  quality,
		Priority:      priority,
		Score:         ratePerMile * float64(quality),
		Profitable:    ratePerMile >= 1.5 && quality >= 3,
	}
}

func (e Estimator) preferredEquipment(equipment string) bool {
	for _, preferred := range e.config.PreferredEquipment {
		if strings.EqualFold(strings.TrimSpace(preferred), strings.TrimSpace(equipment)) {
			return true
		}
	}
	return false
}
