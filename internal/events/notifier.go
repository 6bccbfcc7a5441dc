package events

import (
	"context"
	"fmt"

	"github.com/smallbiznis/billingledger/internal/money"
	"go.uber.org/zap"
)

// LogNotifier writes deliveries to the log with a display amount. Document
// rendering and email delivery live outside this service.
type LogNotifier struct {
	log       *zap.Logger
	formatter money.Formatter
}

func NewLogNotifier(log *zap.Logger, formatter money.Formatter) Notifier {
	return &LogNotifier{log: log.Named("events.notifier"), formatter: formatter}
}

func (n *LogNotifier) Notify(ctx context.Context, event Delivery) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("event_type", event.Type),
	}
	if display, ok, err := n.displayTotal(event); err != nil {
		return err
	} else if ok {
		fields = append(fields, zap.String("display_total", display))
	}
	for _, key := range []string{"invoice_number", "credit_note_number", "status"} {
		if v, ok := event.Payload[key]; ok {
			fields = append(fields, zap.Any(key, v))
		}
	}
	n.log.Info("billing notification", fields...)
	return nil
}

func (n *LogNotifier) displayTotal(event Delivery) (string, bool, error) {
	currency, ok := event.Payload["currency"].(string)
	if !ok {
		return "", false, nil
	}
	total, ok := minorUnits(event.Payload["total"])
	if !ok {
		return "", false, nil
	}
	display, err := n.formatter.Format(money.New(total, currency))
	if err != nil {
		return "", false, fmt.Errorf("format total for %s: %w", event.ID, err)
	}
	return display, true, nil
}

// minorUnits accepts the numeric shapes a JSON round trip produces.
func minorUnits(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
