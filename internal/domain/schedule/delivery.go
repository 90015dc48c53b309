package schedule

import (
	"context"
	"log"
)

// Delivery hands a built report to whatever transport sends it.
type Delivery interface {
	Deliver(ctx context.Context, p *Payload) error
}

// LogDelivery only logs the payload. It is the fallback when no broker is
// configured.
type LogDelivery struct{}

func (LogDelivery) Deliver(_ context.Context, p *Payload) error {
	log.Printf("report_delivered transport=log report_id=%d kind=%s recipients=%d lines=%d test=%t",
		p.ReportID, p.Kind, len(p.Recipients), p.Total, p.Test)
	return nil
}
