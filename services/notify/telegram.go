package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"
	"github.com/scrollDynasty/softforlogic-sub000/lib/restyutil"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	// BaseURL overrides the bot API endpoint, only used in tests.
	BaseURL string `json:"base_url"`
}

// Telegram pushes a plain-text message to a dispatcher chat through
// the bot API.
type Telegram struct {
	http   *resty.Client
	config TelegramConfig
}

var _ Sink = (*Telegram)(nil)

func NewTelegram(config TelegramConfig) *Telegram {
	baseUrl := config.BaseURL
	if baseUrl == "" {
		baseUrl = "https://api.telegram.org"
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, otel.Tracer("services/notify/http"), restyInstrumentOutput)

	return &Telegram{http: client, config: config}
}

func formatMessage(load loads.RawLoad, analysis profit.Analysis) string {
	var out strings.Builder
	fmt.Fprintf(&out, "[%s] %s -> %s\n", analysis.Priority, load.Pickup, load.Delivery)
	fmt.Fprintf(&out, "%.0f mi (+%.0f deadhead)\n", load.Miles, load.Deadhead)
	if load.Rate > 0 {
		fmt.Fprintf(&out, "$%.0f ($%.2f/mi)\n", load.Rate, analysis.RatePerMile)
	} else {
		fmt.Fprintf(&out, "no quote, floor $%.2f/mi\n", analysis.RatePerMile)
	}
	fmt.Fprintf(&out, "est. profit $%.0f, quality %d", analysis.GrossProfit, analysis.QualityScore)
	if load.Equipment != "" {
		fmt.Fprintf(&out, "\n%s", load.Equipment)
	}
	if load.PickupDate != "" {
		fmt.Fprintf(&out, ", pickup %s", load.PickupDate)
	}
	return out.String()
}

func (t *Telegram) Notify(ctx context.Context, load loads.RawLoad, analysis profit.Analysis) error {
	ctx, span := tracer.Start(ctx, "telegram:Notify")
	defer span.End()

	send := func() error {
		res, err := t.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id": t.config.ChatID,
				"text":    formatMessage(load, analysis),
			}).
			Post(fmt.Sprintf("/bot%s/sendMessage", t.config.BotToken))
		if err != nil {
			return err
		}
		status := res.StatusCode()
		if status == 429 || status >= 500 {
			return fmt.Errorf("telegram responded with status %d", status)
		}
		if status >= 400 {
			// bad request or bad credentials, retrying won't help
			return backoff.Permanent(fmt.Errorf("telegram rejected message with status %d", status))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2),
		ctx,
	)
	err := backoff.Retry(send, policy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send telegram message")
		return err
	}
	return nil
}
