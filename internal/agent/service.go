package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"flagsync/internal/events"
	"flagsync/pkg/types"
)

// Service adapts a Client to the HTTP layer.
type Service struct {
	client  *Client
	started time.Time
	now     func() time.Time
}

func NewService(c *Client) *Service {
	return &Service{client: c, started: time.Now(), now: time.Now}
}

func (s *Service) Datafile() (string, bool) { return s.client.Datafile() }

// Ready reports whether readiness settled successfully.
func (s *Service) Ready() bool {
	select {
	case <-s.client.Ready():
		return s.client.ReadyErr() == nil
	default:
		return false
	}
}

// Track converts req into an event and processes it, returning its UUID.
func (s *Service) Track(ctx context.Context, req types.EventRequest) (string, error) {
	ev, err := EventFromRequest(req)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", abandonedError{cause: context.Cause(ctx)}
	}
	if err := s.client.Process(ctx, ev); err != nil {
		return "", err
	}
	return ev.Header().UUID, nil
}

// abandonedError reports a request whose context ended before its event
// reached the processor. It carries its own HTTP status.
type abandonedError struct{ cause error }

func (e abandonedError) Error() string { return "event not processed: " + e.cause.Error() }

func (e abandonedError) Unwrap() error { return e.cause }

func (e abandonedError) StatusCode() int {
	if errors.Is(e.cause, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusServiceUnavailable
}

func (s *Service) Status() types.StatusResponse {
	st := s.client.Status()
	now := s.now()
	resp := types.StatusResponse{
		Closed:         st.Closed,
		UptimeSeconds:  int64(now.Sub(s.started).Seconds()),
		ServerTimeUnix: now.Unix(),
		Datafile: types.DatafileStatus{
			State:      string(st.Datafile.State),
			Ready:      st.Datafile.Ready,
			ReadyError: st.Datafile.ReadyErr,
			Revision:   st.Datafile.Revision,
			Fetches:    st.Datafile.Fetches,
			Failures:   st.Datafile.Failures,
			Updates:    st.Datafile.Updates,
		},
		Processor: types.ProcessorStatus{
			Queued:     st.Processor.Queued,
			InFlight:   st.Processor.InFlight,
			Processed:  st.Processor.Processed,
			Dropped:    st.Processor.Dropped,
			Dispatched: st.Processor.Dispatched,
			Failed:     st.Processor.Failed,
		},
	}
	if !st.Datafile.LastFetch.IsZero() {
		resp.Datafile.LastFetchUnix = st.Datafile.LastFetch.Unix()
	}
	return resp
}

// EventFromRequest builds a processable event from an HTTP payload. Unknown
// types and missing entities are reported as invalid events.
func EventFromRequest(req types.EventRequest) (events.Event, error) {
	ctx := events.Context{
		AccountID:     req.Context.AccountID,
		ProjectID:     req.Context.ProjectID,
		Revision:      req.Context.Revision,
		ClientName:    req.Context.ClientName,
		ClientVersion: req.Context.ClientVersion,
		AnonymizeIP:   req.Context.AnonymizeIP,
		BotFiltering:  req.Context.BotFiltering,
	}
	user := events.User{ID: req.User.ID}
	for _, a := range req.User.Attributes {
		user.Attributes = append(user.Attributes, events.Attribute{EntityID: a.EntityID, Key: a.Key, Value: a.Value})
	}
	base := events.NewBase(ctx, user)

	switch req.Type {
	case types.EventTypeImpression:
		return &events.Impression{
			Base:       base,
			Layer:      entity(req.Layer),
			Experiment: entity(req.Experiment),
			Variation:  entity(req.Variation),
			FlagKey:    req.FlagKey,
			RuleKey:    req.RuleKey,
			RuleType:   req.RuleType,
			Enabled:    req.Enabled,
		}, nil
	case types.EventTypeConversion:
		if req.Event == nil {
			return nil, events.Invalid("conversion without event")
		}
		return &events.Conversion{
			Base:    base,
			Event:   entity(req.Event),
			Revenue: req.Revenue,
			Value:   req.Value,
			Tags:    req.Tags,
		}, nil
	case "":
		return nil, events.Invalid("missing type")
	}
	return nil, events.Invalid("unknown type " + req.Type)
}

func entity(e *types.Entity) events.Entity {
	if e == nil {
		return events.Entity{}
	}
	return events.Entity{ID: e.ID, Key: e.Key}
}
