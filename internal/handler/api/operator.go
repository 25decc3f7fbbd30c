package api

import (
	"strings"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
	"PerpGate/internal/service/metrics"
	"PerpGate/internal/service/ratelimit"
	"PerpGate/internal/services/execution"
	"PerpGate/internal/services/risk"
	"PerpGate/internal/usecase"
	xhttp "PerpGate/pkg/http"
	xlogger "PerpGate/pkg/logger"
	xutil "PerpGate/pkg/util"

	"github.com/labstack/echo/v4"
)

// OperatorHandler exposes status, risk reset, feature stats, signals, manual
// orders and candle history over echo.
type OperatorHandler struct {
	logger     *xlogger.Logger
	eval       *usecase.Evaluator
	risk       *risk.Controller
	lifecycles *execution.LifecycleStore
	features   *execution.FeatureTracker
	candles    *usecase.CandlesUseCase
	mode       string
	symbols    []string
	rl         *ratelimit.Limiter
	now        func() time.Time
}

func NewOperatorHandler(
	logger *xlogger.Logger,
	eval *usecase.Evaluator,
	ctl *risk.Controller,
	lifecycles *execution.LifecycleStore,
	features *execution.FeatureTracker,
	candles *usecase.CandlesUseCase,
	mode string,
	symbols []string,
) *OperatorHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &OperatorHandler{
		logger:     logger,
		eval:       eval,
		risk:       ctl,
		lifecycles: lifecycles,
		features:   features,
		candles:    candles,
		mode:       mode,
		symbols:    symbols,
		rl:         ratelimit.New(),
		now:        time.Now,
	}
}

func (h *OperatorHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.POST("/risk/reset", h.ResetRisk)
	g.GET("/features", h.Features)
	g.GET("/signals/:symbol", h.Signal)
	g.POST("/orders/manual", h.ManualOrder)
	g.GET("/candles", h.Candles)
}

// observe records endpoint latency, and an error when failed is set.
func observe(endpoint string, start time.Time, failed *bool) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if *failed {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
	}
}

// appError maps a domain error kind onto an HTTP error.
func appError(err error) *xhttp.AppError {
	var ae *xhttp.AppError
	switch errs.KindOf(err) {
	case errs.KindPolicy, errs.KindValidation:
		ae = xhttp.BadRequestError(err.Error())
	case errs.KindRisk:
		ae = xhttp.ConflictError(err.Error())
	case errs.KindExternal:
		ae = xhttp.BadGatewayError(err.Error())
	default:
		ae = xhttp.InternalError("internal error")
	}
	return ae.WithError(err)
}

type statusResponse struct {
	Mode       string             `json:"mode"`
	Symbols    []string           `json:"symbols"`
	Risk       models.RiskState   `json:"risk"`
	Lifecycles []models.Lifecycle `json:"lifecycles"`
	Time       time.Time          `json:"time"`
}

func (h *OperatorHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, statusResponse{
		Mode:       h.mode,
		Symbols:    h.symbols,
		Risk:       h.risk.State(),
		Lifecycles: h.lifecycles.All(),
		Time:       h.now().UTC(),
	})
}

// ResetRisk is the only way to clear a tripped circuit breaker. A zero
// equity resets against the exchange's current equity.
func (h *OperatorHandler) ResetRisk(c echo.Context) error {
	start, failed := time.Now(), false
	defer observe("risk_reset", start, &failed)

	req := &models.RiskResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		failed = true
		return xhttp.BadRequestResponse(c, verr)
	}
	equity := req.Equity
	if equity == 0 {
		eq, err := h.eval.Equity(c.Request().Context())
		if err != nil {
			failed = true
			h.logger.Error("risk reset equity lookup failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, appError(err))
		}
		equity = eq
	}
	h.risk.Reset(equity, req.Reason)
	h.logger.Warn("risk state reset by operator",
		xlogger.String("reason", req.Reason),
		xlogger.Float64("equity", equity),
	)
	return xhttp.SuccessResponse(c, h.risk.State())
}

func (h *OperatorHandler) Features(c echo.Context) error {
	perf := h.features.Snapshot()
	return xhttp.ListResponse(c, perf, int64(len(perf)))
}

func (h *OperatorHandler) Signal(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	sig, ok := h.eval.LastSignal(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no signal for %s yet", symbol))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, sig)
}

// waitError maps a refused manual order onto an HTTP error. Duplicates and
// holds are reported as successful no-ops.
func waitError(w models.Wait) *xhttp.AppError {
	switch w.Reason {
	case models.WaitSymbolBlocked, models.WaitNotAuthorized, models.WaitNoPosition,
		models.WaitPositionOpen, models.WaitNoRoomToSize:
		return xhttp.BadRequestError(w.Reason).WithParam("symbol", w.Symbol)
	case models.WaitCircuitBreaker, models.WaitExposure, models.WaitPositionCap:
		return xhttp.ConflictError(w.Reason).WithParam("symbol", w.Symbol)
	}
	return nil
}

func (h *OperatorHandler) ManualOrder(c echo.Context) error {
	start, failed := time.Now(), false
	defer observe("manual_order", start, &failed)

	if !h.rl.Allow(c.RealIP()+":manual", 5, 1) {
		failed = true
		c.Response().Header().Set("Retry-After", "1")
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("manual order rate limit reached"))
	}
	req := &models.ManualOrderRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		failed = true
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Action == execution.ManualOpen && req.Side == "" {
		failed = true
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("side is required to open").WithParam("field", "side"))
	}

	ev, err := h.eval.Manual(c.Request().Context(), execution.ManualOrder{
		Symbol:   strings.ToUpper(req.Symbol),
		Action:   req.Action,
		Side:     models.Side(req.Side),
		Size:     req.Size,
		Leverage: req.Leverage,
	}, h.now())
	if err != nil {
		failed = true
		h.logger.Error("manual order failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	if w, ok := ev.Action.(models.Wait); ok {
		if ae := waitError(w); ae != nil {
			failed = true
			return xhttp.AppErrorResponse(c, ae)
		}
	}
	return xhttp.SuccessResponse(c, ev)
}

func (h *OperatorHandler) Candles(c echo.Context) error {
	start, failed := time.Now(), false
	defer observe("candles", start, &failed)

	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		failed = true
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.NormalizeTimeframe(req.TF)
	to := xutil.ParseTimeDefault(req.To, h.now().UTC())
	from := xutil.ParseTimeDefault(req.From, to.Add(-time.Duration(req.Limit)*tf.Duration()))
	from, to = xutil.AlignFromTo(from, to, tf.Duration())

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    strings.ToUpper(req.Symbol),
		From:      from,
		To:        to,
		Timeframe: tf,
		Limit:     req.Limit,
	})
	if err != nil {
		failed = true
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, res)
}
