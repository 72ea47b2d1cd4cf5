package rpc

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/ledger"
	"github.com/mmynk/eventlist/internal/middleware"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/storage"
)

// EventGetter loads events for settlement.
type EventGetter interface {
	GetEvent(ctx context.Context, id models.ID) (*models.Event, error)
}

// LedgerService implements the Settle RPC.
type LedgerService struct {
	events EventGetter
}

// NewLedgerService creates a ledger service over events.
func NewLedgerService(events EventGetter) *LedgerService {
	return &LedgerService{events: events}
}

// Settle computes balances and transfers for an event the caller can see.
func (s *LedgerService) Settle(ctx context.Context, req *connect.Request[SettleRequest]) (*connect.Response[ledger.Result], error) {
	viewer := middleware.GetIdentity(ctx)
	if viewer == "" {
		viewer = access.Normalize(req.Msg.UserID)
	}
	if viewer == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("userId is required"))
	}
	id := models.NewID(req.Msg.EventID)
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("eventId is required"))
	}

	ev, err := s.events.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !access.CanView(ev, viewer)) {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("event not found"))
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	result := ledger.Settle(ev.Items, ev.Participants, viewer)
	return connect.NewResponse(&result), nil
}

// NewLedgerServiceHandler returns the mount path and handler for svc.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	settle := connect.NewUnaryHandler(SettleProcedure, svc.Settle, opts...)

	mux := http.NewServeMux()
	mux.Handle(SettleProcedure, settle)
	return "/" + LedgerServiceName + "/", mux
}

// LedgerClient calls the Settle RPC.
type LedgerClient struct {
	settle *connect.Client[SettleRequest, ledger.Result]
	token  string
}

// NewLedgerClient creates a client for the server at baseURL. token may be empty.
func NewLedgerClient(httpClient connect.HTTPClient, baseURL, token string) *LedgerClient {
	return &LedgerClient{
		settle: connect.NewClient[SettleRequest, ledger.Result](
			httpClient,
			baseURL+SettleProcedure,
			connect.WithCodec(Codec{}),
		),
		token: token,
	}
}

// Settle asks the server to settle eventID as seen by userID.
func (c *LedgerClient) Settle(ctx context.Context, eventID models.ID, userID string) (ledger.Result, error) {
	req := connect.NewRequest(&SettleRequest{EventID: eventID.String(), UserID: userID})
	if c.token != "" {
		req.Header().Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.settle.CallUnary(ctx, req)
	if err != nil {
		return ledger.Result{}, err
	}
	return *resp.Msg, nil
}
