package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/balance"
	"github.com/gasline/gasline/pkg/ethtx"
	"github.com/gasline/gasline/pkg/gas"
	"github.com/gasline/gasline/pkg/holdings"
	"github.com/gasline/gasline/pkg/jsonrpc"
)

// maxBodyBytes caps the accepted request body size.
const maxBodyBytes = 5 << 20

// Upstream forwards JSON-RPC requests to healthy endpoints.
type Upstream interface {
	Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	CallWithOrigin(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, string, error)
}

// GasEstimator prices outbound transactions.
type GasEstimator interface {
	Estimate(ctx context.Context, s *ethtx.Skeleton) (*gas.Estimate, error)
	Fallback(ctx context.Context, s *ethtx.Skeleton) (*gas.Estimate, error)
	EstimateGasLimit(ctx context.Context, s *ethtx.Skeleton) (uint64, bool)
}

// BalanceReader fetches real on-chain balances.
type BalanceReader interface {
	RealBalanceWithOrigin(ctx context.Context, addr common.Address) (*big.Int, string, error)
}

// Funder triggers out-of-band funding for underfunded senders.
type Funder interface {
	Request(ctx context.Context, sender string, estimate *gas.Estimate, servedBy string) bool
}

// Holder parks transactions until their sender can pay.
type Holder interface {
	Hold(hold holdings.HoldRequest) *holdings.Entry
	Snapshot() []holdings.HeldTransaction
	Len() int
}

// Handler implements the intercepting JSON-RPC pipeline: gas-gating for
// outbound transactions, balance spoofing for wallet UI queries, and
// pass-through for everything else.
type Handler struct {
	upstream  Upstream
	estimator GasEstimator
	balances  BalanceReader
	funder    Funder
	holder    Holder
	watched   []ethtx.ApprovalTarget
	logger    *zap.Logger
}

// NewHandler creates the RPC pipeline handler
func NewHandler(
	upstream Upstream,
	estimator GasEstimator,
	balances BalanceReader,
	funder Funder,
	holder Holder,
	watched []ethtx.ApprovalTarget,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		upstream:  upstream,
		estimator: estimator,
		balances:  balances,
		funder:    funder,
		holder:    holder,
		watched:   watched,
		logger:    logger.Named("rpc"),
	}
}

// HandleRPC dispatches a single JSON-RPC request through the pipeline.
func (h *Handler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.NewError(jsonrpc.ParseError, "failed to read request body", nil)))
		return
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.NewError(jsonrpc.InvalidRequest, "batch requests are not supported", nil)))
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.NewError(jsonrpc.ParseError, "invalid JSON payload", nil)))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.InvalidRequest, "missing method", nil)))
		return
	}

	switch req.Method {
	case "eth_estimateGas":
		h.handleEstimateGas(w, r, &req)
	case "eth_sendTransaction":
		h.handleSend(w, r, &req, false)
	case "eth_sendRawTransaction":
		h.handleSend(w, r, &req, true)
	default:
		h.handlePassthrough(w, r, &req)
	}
}

// handleEstimateGas keeps wallet send buttons alive: forward the estimate
// upstream, and when the node rejects it (typically because the sender is
// underfunded) answer with the static per-kind default instead.
func (h *Handler) handleEstimateGas(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) {
	skeleton := h.callSkeleton(req)
	if skeleton == nil {
		h.handlePassthrough(w, r, req)
		return
	}

	limit, estimated := h.estimator.EstimateGasLimit(r.Context(), skeleton)
	requestsTotal.WithLabelValues(req.Method, actionEstimate).Inc()
	if !estimated {
		h.logger.Info("gas estimate rejected upstream, answering static default",
			zap.String("kind", string(ethtx.Classify(skeleton))),
			zap.Uint64("gasLimit", limit),
		)
	}

	resp, err := jsonrpc.NewResponse(req.ID, hexutil.EncodeUint64(limit))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.InternalError, "failed to encode response", nil)))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSend runs the gas-gating pipeline for outbound transactions.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, raw bool) {
	ctx := r.Context()

	var skeleton *ethtx.Skeleton
	if raw {
		rawHex, ok := rawParam(req)
		if !ok {
			// No raw payload to gate on: let the upstream node produce
			// the error.
			h.handlePassthrough(w, r, req)
			return
		}
		skeleton = h.decodeRawParam(rawHex)
	} else {
		skeleton = h.callSkeleton(req)
		if skeleton == nil {
			// Malformed params: let the upstream node produce the error.
			h.handlePassthrough(w, r, req)
			return
		}
	}

	estimate, err := h.estimator.Estimate(ctx, skeleton)
	if err != nil {
		estimate, err = h.estimator.Fallback(ctx, skeleton)
	}
	if err != nil || estimate == nil {
		// No cost estimate at all: forwarding unchecked beats dropping
		// the transaction on the floor.
		h.logger.Warn("gas estimation unavailable, forwarding without balance check",
			zap.String("method", req.Method),
			zap.Error(err),
		)
		requestsTotal.WithLabelValues(req.Method, actionForwardUnchecked).Inc()
		h.handlePassthrough(w, r, req)
		return
	}

	watched := skeleton != nil && ethtx.IsWatchedApproval(skeleton, h.watched)
	origin := ""

	// Non-raw transactions with a known sender forward immediately when
	// the balance already covers gas plus value. Raw transactions are
	// always held: their balance is re-checked by the poller.
	if !raw {
		if !skeleton.HasFrom {
			h.handlePassthrough(w, r, req)
			return
		}

		bal, servedBy, balErr := h.balances.RealBalanceWithOrigin(ctx, skeleton.From)
		origin = servedBy
		if balErr != nil {
			// Unreadable balance is treated as insufficient; the hold
			// poller keeps retrying.
			h.logger.Warn("balance check failed, holding transaction",
				zap.String("from", skeleton.From.Hex()),
				zap.Error(balErr),
			)
		} else if balance.HasEnough(bal, requiredWei(estimate, skeleton)) {
			requestsTotal.WithLabelValues(req.Method, actionForward).Inc()
			h.handlePassthrough(w, r, req)
			return
		}
	}

	// Funding fires at most once per held transaction, never for watched
	// approvals and never without a known sender.
	if !watched && skeleton != nil && skeleton.HasFrom {
		h.funder.Request(ctx, skeleton.From.Hex(), estimate, origin)
	}

	requestsTotal.WithLabelValues(req.Method, actionHold).Inc()
	entry := h.holder.Hold(holdings.HoldRequest{
		Request:  req,
		Estimate: estimate,
		Skeleton: skeleton,
		Raw:      raw,
		Watched:  watched,
	})

	outcome, waitErr := entry.Handle().Wait(ctx)
	if waitErr != nil {
		// Client went away; the poller still resolves into the buffered
		// handle, nothing to write.
		h.logger.Info("client disconnected while transaction held",
			zap.Uint64("id", entry.ID),
		)
		return
	}
	writeJSON(w, outcome.HTTPStatus, outcome.Response)
}

// handlePassthrough forwards the request and applies balance spoofing on
// the way back when the method is on the spoofed path.
func (h *Handler) handlePassthrough(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) {
	view := balance.Classify(req.Method, req.Params, r.Header.Get(balance.HeaderName))

	resp, origin, err := h.upstream.CallWithOrigin(r.Context(), req)

	// Balance queries on the spoofed path always answer with the
	// placeholder, even when upstream failed: the forward is best-effort
	// and the wallet UI must never see a missing balance.
	if view == balance.ViewSpoof && req.Method == "eth_getBalance" {
		spoofed, encErr := jsonrpc.NewResponse(req.ID, balance.SpoofedWeiHex)
		if encErr == nil {
			if err != nil || (resp != nil && resp.Error != nil) {
				h.logger.Warn("upstream balance query failed, spoofing anyway",
					zap.Error(err),
				)
			}
			spoofedTotal.Inc()
			h.logger.Debug("spoofed balance response",
				zap.String("origin", origin),
			)
			writeJSON(w, http.StatusOK, spoofed)
			return
		}
	}

	if err != nil {
		writeJSON(w, http.StatusBadGateway,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.InternalError, "upstream request failed", nil)))
		return
	}

	requestsTotal.WithLabelValues(req.Method, actionForward).Inc()
	writeJSON(w, http.StatusOK, resp)
}

// callSkeleton parses the first positional param as a transaction object.
func (h *Handler) callSkeleton(req *jsonrpc.Request) *ethtx.Skeleton {
	params, err := req.PositionalParams()
	if err != nil || len(params) == 0 {
		return nil
	}
	skeleton, err := ethtx.FromCallParams(params[0])
	if err != nil {
		h.logger.Debug("unparseable transaction params",
			zap.String("method", req.Method),
			zap.Error(err),
		)
		return nil
	}
	return skeleton
}

// rawParam extracts the raw transaction hex from the first positional
// param. Missing or non-string params carry nothing to gate on.
func rawParam(req *jsonrpc.Request) (string, bool) {
	params, err := req.PositionalParams()
	if err != nil || len(params) == 0 {
		return "", false
	}
	var rawHex string
	if err := json.Unmarshal(params[0], &rawHex); err != nil {
		return "", false
	}
	return rawHex, true
}

// decodeRawParam decodes a hex payload as a signed raw transaction.
// Returns nil when decoding fails; such transactions are still held, on
// the fallback timer.
func (h *Handler) decodeRawParam(rawHex string) *ethtx.Skeleton {
	skeleton, err := ethtx.DecodeRaw(rawHex)
	if err != nil {
		h.logger.Warn("raw transaction decode failed, holding on fallback timer",
			zap.Error(err),
		)
		return nil
	}
	return skeleton
}

// requiredWei is the forward condition: estimated gas cost plus value.
func requiredWei(estimate *gas.Estimate, s *ethtx.Skeleton) *big.Int {
	required := new(big.Int).Set(estimate.TotalCostWei)
	if s != nil {
		required.Add(required, s.ValueWei())
	}
	return required
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
