package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
	"github.com/surya-moorthy/escrow-reward-system/internal/metrics"
)

const jsonContentType = "application/json; charset=utf-8"

// maxBody caps request bodies; every command fits in a few hundred bytes.
const maxBody = 64 << 10

// Server exposes a ledger over HTTP.
type Server struct {
	ledger  *ledger.Ledger
	cmds    *ledger.Clocked
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer builds a Server. metrics may be nil.
func NewServer(l *ledger.Ledger, clock Clock, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewMonotonicClock(0)
	}
	return &Server{ledger: l, cmds: l.WithClock(clock), metrics: m, logger: logger}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(op string, f handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		if s.metrics != nil && op != "" {
			kind, _ := ledger.KindOf(err)
			s.metrics.Rejected(op, string(kind))
		}
		if _, ok := ledger.KindOf(err); !ok {
			s.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		writeError(w, err)
	}
}

// Handler returns the router wrapped in recovery and compression.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Path("/pool").Methods(http.MethodPost).Name("initialize-pool").
		HandlerFunc(s.wrap("initialize_pool", s.initializePool))
	router.Path("/pool/{id}").Methods(http.MethodGet).Name("get-pool").
		HandlerFunc(s.wrap("", s.getPool))

	router.Path("/assets").Methods(http.MethodGet).Name("list-assets").
		HandlerFunc(s.wrap("", s.listAssets))
	router.Path("/assets").Methods(http.MethodPost).Name("add-asset").
		HandlerFunc(s.wrap("add_supported_asset", s.addAsset))
	router.Path("/assets/{asset}").Methods(http.MethodGet).Name("get-asset").
		HandlerFunc(s.wrap("", s.getAsset))

	router.Path("/stakes/{owner}/{asset}").Methods(http.MethodGet).Name("get-stake").
		HandlerFunc(s.wrap("", s.getStake))
	router.Path("/stake").Methods(http.MethodPost).Name("stake").
		HandlerFunc(s.wrap("stake", s.stake))
	router.Path("/unstake").Methods(http.MethodPost).Name("unstake").
		HandlerFunc(s.wrap("unstake", s.unstake))
	router.Path("/claim").Methods(http.MethodPost).Name("claim").
		HandlerFunc(s.wrap("claim_rewards", s.claim))

	router.Path("/treasury").Methods(http.MethodGet).Name("get-treasury").
		HandlerFunc(s.wrap("", s.getTreasury))
	router.Path("/treasury/fund").Methods(http.MethodPost).Name("fund-treasury").
		HandlerFunc(s.wrap("fund_treasury", s.fundTreasury))
	router.Path("/treasury/withdraw").Methods(http.MethodPost).Name("withdraw-treasury").
		HandlerFunc(s.wrap("withdraw_treasury", s.withdrawTreasury))

	router.Path("/admin").Methods(http.MethodPost).Name("update-admin").
		HandlerFunc(s.wrap("update_admin", s.updateAdmin))

	if s.metrics != nil {
		router.Path("/metrics").Methods(http.MethodGet).Name("metrics").Handler(s.metrics.Handler())
		router.Use(s.metrics.Middleware(routeTemplate))
	}

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(handlers.CompressHandler(router))
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

func (s *Server) initializePool(w http.ResponseWriter, r *http.Request) error {
	var req initializePoolRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	pool, err := s.cmds.InitializePool(req.Caller)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, pool)
	return nil
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) error {
	raw := mux.Vars(r)["id"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return badRequest(fmt.Errorf("invalid pool id %q", raw))
	}
	pool, err := s.ledger.Pool(common.BytesToHash(b))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pool)
	return nil
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) error {
	assets, err := s.ledger.Assets()
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, assets)
	return nil
}

func (s *Server) addAsset(w http.ResponseWriter, r *http.Request) error {
	var req addAssetRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	asset, err := s.cmds.AddSupportedAsset(req.Caller, req.AssetID, req.Vault, req.RewardRate, req.LockDuration)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, asset)
	return nil
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) error {
	assetID, err := pathAddress(r, "asset")
	if err != nil {
		return err
	}
	asset, err := s.ledger.Asset(assetID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, asset)
	return nil
}

func (s *Server) getStake(w http.ResponseWriter, r *http.Request) error {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		return err
	}
	assetID, err := pathAddress(r, "asset")
	if err != nil {
		return err
	}
	stake, err := s.ledger.UserStake(owner, assetID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stake)
	return nil
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) error {
	var req stakeRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	stake, err := s.cmds.Stake(r.Context(), req.Caller, req.AssetID, req.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stake)
	return nil
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request) error {
	var req stakeRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	stake, err := s.cmds.Unstake(r.Context(), req.Caller, req.AssetID, req.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stake)
	return nil
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) error {
	var req claimRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	stake, payout, err := s.cmds.ClaimRewards(r.Context(), req.Caller, req.AssetID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, claimResponse{Stake: stake, Payout: payout})
	return nil
}

func (s *Server) getTreasury(w http.ResponseWriter, r *http.Request) error {
	treasury, err := s.ledger.Treasury()
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, treasury)
	return nil
}

func (s *Server) fundTreasury(w http.ResponseWriter, r *http.Request) error {
	var req treasuryRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	treasury, err := s.cmds.FundTreasury(r.Context(), req.Caller, req.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, treasury)
	return nil
}

func (s *Server) withdrawTreasury(w http.ResponseWriter, r *http.Request) error {
	var req treasuryRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	treasury, err := s.cmds.WithdrawTreasury(r.Context(), req.Caller, req.Amount)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, treasury)
	return nil
}

func (s *Server) updateAdmin(w http.ResponseWriter, r *http.Request) error {
	var req updateAdminRequest
	if err := parseJSON(r, &req); err != nil {
		return err
	}
	if err := requireCaller(req.Caller); err != nil {
		return err
	}
	pool, err := s.cmds.UpdateAdmin(req.Caller, req.NewAdmin)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pool)
	return nil
}

// parseJSON decodes the body in strict mode.
func parseJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return badRequest(fmt.Errorf("decode request: %w", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(obj)
}

func requireCaller(caller common.Address) error {
	if caller == (common.Address{}) {
		return badRequest(fmt.Errorf("caller is required"))
	}
	return nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	raw := mux.Vars(r)[name]
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest(fmt.Errorf("invalid %s address %q", name, raw))
	}
	return common.HexToAddress(raw), nil
}
