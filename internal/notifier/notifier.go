// Package notifier delivers fund alerts over email and Telegram.
package notifier

import (
	"context"

	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/model"
)

// Notifier has one method per alert type. Each reports whether the alert reached at least one recipient.
type Notifier interface {
	SendPremiumHighAlert(ctx context.Context, a *model.Alert, recipients []string) bool
	SendPremiumLowAlert(ctx context.Context, a *model.Alert, recipients []string) bool
	SendLimitChangeAlert(ctx context.Context, a *model.Alert, recipients []string) bool
	SendLimitHighAlert(ctx context.Context, a *model.Alert, recipients []string) bool
}

// Dispatch routes an alert to the notifier method matching its type.
func Dispatch(ctx context.Context, n Notifier, a *model.Alert, recipients []string) bool {
	switch a.Type {
	case model.AlertPremiumHigh:
		return n.SendPremiumHighAlert(ctx, a, recipients)
	case model.AlertPremiumLow:
		return n.SendPremiumLowAlert(ctx, a, recipients)
	case model.AlertLimitChange:
		return n.SendLimitChangeAlert(ctx, a, recipients)
	case model.AlertLimitHigh:
		return n.SendLimitHighAlert(ctx, a, recipients)
	}
	log.Error().Str("type", string(a.Type)).Str("fund", a.FundCode).Msg("no notifier for alert type")
	return false
}

// Multi sends through every channel and succeeds if any channel did.
type Multi []Notifier

func (m Multi) fan(send func(Notifier) bool) bool {
	delivered := false
	for _, n := range m {
		if send(n) {
			delivered = true
		}
	}
	return delivered
}

func (m Multi) SendPremiumHighAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return m.fan(func(n Notifier) bool { return n.SendPremiumHighAlert(ctx, a, to) })
}

func (m Multi) SendPremiumLowAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return m.fan(func(n Notifier) bool { return n.SendPremiumLowAlert(ctx, a, to) })
}

func (m Multi) SendLimitChangeAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return m.fan(func(n Notifier) bool { return n.SendLimitChangeAlert(ctx, a, to) })
}

func (m Multi) SendLimitHighAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return m.fan(func(n Notifier) bool { return n.SendLimitHighAlert(ctx, a, to) })
}
