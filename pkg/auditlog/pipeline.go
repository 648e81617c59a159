package auditlog

import "context"

// Pipeline signs and persists audit records in one call, the shape the
// enforcement adapters depend on.
type Pipeline struct {
	store  *Store
	signer *Signer
}

// NewPipeline builds a Pipeline from a durable store and a signer.
func NewPipeline(store *Store, signer *Signer) *Pipeline {
	return &Pipeline{store: store, signer: signer}
}

// Dispatch signs rec and writes it to the store. The caller's rec need not
// carry a signature; Dispatch computes and sets one.
func (p *Pipeline) Dispatch(ctx context.Context, rec Record) error {
	rec.Signature = p.signer.Sign(rec)
	return p.store.Write(ctx, rec)
}
