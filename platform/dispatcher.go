package platform

import (
	"context"
	"sync"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/logging"
	"github.com/lumabot/lumabot/pipeline"
)

// Dispatcher pumps messages from adapters through the pipeline and routes
// outcomes back. Delivered replies and rejection notices go to the adapter;
// silent rejections and failures only produce log records.
type Dispatcher struct {
	engine    *pipeline.Engine
	adapters  []Adapter
	isolation core.IsolationMode
	logger    logging.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires adapters to the engine.
func NewDispatcher(engine *pipeline.Engine, adapters []Adapter, isolation core.IsolationMode, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{engine: engine, adapters: adapters, isolation: isolation, logger: logger}
}

// Run starts every adapter and processes messages until ctx is cancelled,
// then stops the adapters and drains in-flight work.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, a := range d.adapters {
		if err := a.Start(ctx); err != nil {
			return err
		}
		d.wg.Add(1)
		go d.pump(ctx, a)
	}
	<-ctx.Done()
	for _, a := range d.adapters {
		if err := a.Stop(); err != nil {
			d.logger.Warn("dispatcher.adapter.stop_failed", "adapter", a.Name(), "error", err.Error())
		}
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) pump(ctx context.Context, a Adapter) {
	defer d.wg.Done()
	for msg := range a.Messages() {
		event := d.toEvent(msg)
		outcome := d.engine.Process(ctx, event)
		d.route(ctx, a, msg, event, outcome)
	}
}

func (d *Dispatcher) toEvent(msg Message) core.Event {
	if msg.Kind == core.PayloadAudio || msg.Kind == core.PayloadImage {
		return core.NewMediaEvent(msg.Platform, msg.UserID, msg.GroupID, msg.Kind, msg.Media, d.isolation)
	}
	return core.NewTextEvent(msg.Platform, msg.UserID, msg.GroupID, msg.Text, d.isolation)
}

func (d *Dispatcher) route(ctx context.Context, a Adapter, msg Message, event core.Event, outcome core.Outcome) {
	to := Delivery{Platform: msg.Platform, UserID: msg.UserID, GroupID: msg.GroupID}
	switch outcome.Kind {
	case core.OutcomeDelivered:
		if outcome.Reply == nil {
			return
		}
		if err := a.Send(ctx, to, outcome.Reply); err != nil {
			d.logger.Error("dispatcher.send_failed", "adapter", a.Name(), "event_id", event.ID, "error", err.Error())
		}
	case core.OutcomeRejected:
		if outcome.Reply != nil { // policy notice
			if err := a.Send(ctx, to, outcome.Reply); err != nil {
				d.logger.Error("dispatcher.send_failed", "adapter", a.Name(), "event_id", event.ID, "error", err.Error())
			}
		}
		d.logger.Debug("dispatcher.rejected", "event_id", event.ID, "reason", string(outcome.Reason))
	case core.OutcomeFailed:
		d.logger.Error("dispatcher.failed", "event_id", event.ID, "error", outcome.Err.Error())
	}
}
