package casesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
	apperrors "github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/metrics"
	"github.com/jwalitptl/caresync/pkg/validator"
)

var requestValidator = validator.New()

// errOpConflict aborts a batch whose op id was already used for other content.
var errOpConflict = errors.New("operation id reused with a different payload")

// Outcome is a finished sync response. Body is sent verbatim.
type Outcome struct {
	Status   int
	Body     []byte
	Replayed bool
}

type SyncServicer interface {
	Apply(ctx context.Context, idempotencyKey string, req *model.SyncRequest) (*Outcome, error)
}

type Service struct {
	ledger   *Ledger
	receipts repository.ReceiptRepository
	records  repository.CaseRecordRepository
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(
	ledger *Ledger,
	receipts repository.ReceiptRepository,
	records repository.CaseRecordRepository,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		ledger:   ledger,
		receipts: receipts,
		records:  records,
		logger:   log,
		metrics:  m,
	}
}

// Apply runs one sync batch. Conflicts on the idempotency key and failures
// before any response exists are returned as errors; every other result,
// including an op id conflict, is an Outcome.
func (s *Service) Apply(ctx context.Context, idempotencyKey string, req *model.SyncRequest) (*Outcome, error) {
	timer := prometheus.NewTimer(s.metrics.SyncLatency)
	defer timer.ObserveDuration()

	if err := validateBatch(req); err != nil {
		s.metrics.SyncBatches.WithLabelValues(strconv.Itoa(http.StatusBadRequest)).Inc()
		return nil, err
	}
	s.metrics.SyncBatchSize.Observe(float64(len(req.Ops)))

	requestHash, err := RequestHash(req)
	if err != nil {
		return nil, apperrors.NewBadRequest("invalid request body", err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"device_id": req.DeviceID,
		"ops":       len(req.Ops),
	})

	if idempotencyKey != "" {
		replay, err := s.reserve(ctx, idempotencyKey, requestHash)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			s.metrics.IdempotencyReplays.Inc()
			s.metrics.SyncBatches.WithLabelValues("replayed").Inc()
			log.Debug("replaying stored sync response", "idempotency_key", idempotencyKey)
			return replay, nil
		}
	}

	// From here on effects are written. A client that disconnects must not
	// leave a receipt stuck in processing, so the rest runs detached from
	// request cancellation.
	ctx = context.WithoutCancel(ctx)

	results := make([]model.SyncOpResult, 0, len(req.Ops))
	for _, op := range req.Ops {
		res, err := s.applyOp(ctx, op)
		if errors.Is(err, errOpConflict) {
			s.metrics.SyncConflicts.WithLabelValues("op_id").Inc()
			log.Warn("operation id conflict", "op_id", op.OpID)
			return s.finish(ctx, idempotencyKey, requestHash, http.StatusConflict, struct {
				OK    bool   `json:"ok"`
				Error string `json:"error"`
			}{false, fmt.Sprintf("operation %s was already submitted with a different payload", op.OpID)})
		}
		if err != nil {
			return nil, apperrors.NewInternal(err)
		}
		s.metrics.SyncOperations.WithLabelValues(string(res.Status)).Inc()
		results = append(results, res)
	}

	resp := model.SyncResponse{OK: true, Results: results}
	status := http.StatusOK
	for _, r := range results {
		switch r.Status {
		case model.OpFailed:
			resp.OK = false
		case model.OpProcessing:
			status = http.StatusAccepted
		}
	}

	log.Info("sync batch applied", "status", status, "ok", resp.OK)
	return s.finish(ctx, idempotencyKey, requestHash, status, resp)
}

// reserve claims key for requestHash. It returns a stored Outcome to replay,
// nil to proceed, or a conflict error.
func (s *Service) reserve(ctx context.Context, key, requestHash string) (*Outcome, error) {
	reserved, err := s.ledger.Reserve(ctx, key, requestHash)
	if err != nil {
		return nil, apperrors.NewInternal(fmt.Errorf("failed to reserve idempotency key: %w", err))
	}
	if reserved {
		return nil, nil
	}

	rec, err := s.ledger.Lookup(ctx, key)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// Pruned between reserve and lookup.
		return nil, nil
	case err != nil:
		return nil, apperrors.NewInternal(fmt.Errorf("failed to look up idempotency key: %w", err))
	case rec.RequestHash != requestHash:
		s.metrics.SyncConflicts.WithLabelValues("idempotency_key").Inc()
		s.metrics.SyncBatches.WithLabelValues(strconv.Itoa(http.StatusConflict)).Inc()
		return nil, apperrors.NewConflict("idempotency key was already used with a different request body", nil)
	case rec.Completed():
		return &Outcome{Status: *rec.ResponseStatus, Body: rec.ResponseBody, Replayed: true}, nil
	default:
		// Another request holds the key and has not finished; proceed and
		// rely on operation receipts.
		s.logger.Debug("idempotency key in flight, proceeding", "idempotency_key", key)
		return nil, nil
	}
}

func (s *Service) applyOp(ctx context.Context, op model.SyncOp) (model.SyncOpResult, error) {
	res := model.SyncOpResult{OpID: op.OpID}

	payloadHash, err := PayloadHash(op.Payload)
	if err != nil {
		return res, err
	}

	inserted, err := s.receipts.Insert(ctx, op.OpID, payloadHash)
	if err != nil {
		return res, err
	}

	if inserted {
		rec, err := s.records.ApplyOperation(ctx, op.OpID, caseRecordFromOp(op))
		if err != nil {
			msg := err.Error()
			s.logger.Error(err, "failed to apply operation", "op_id", op.OpID)
			if mErr := s.receipts.MarkFailed(ctx, op.OpID, msg); mErr != nil {
				s.logger.Error(mErr, "failed to record operation failure", "op_id", op.OpID)
			}
			res.Status = model.OpFailed
			res.Error = msg
			return res, nil
		}

		result, err := json.Marshal(model.AppliedCaseRecord{
			ID:        rec.ID.String(),
			Version:   rec.Version,
			UpdatedAt: rec.UpdatedAt,
		})
		if err != nil {
			return res, err
		}
		if res.Result, err = Canonicalize(result); err != nil {
			return res, err
		}
		res.Status = model.OpApplied
		return res, nil
	}

	receipt, err := s.receipts.Get(ctx, op.OpID)
	if err != nil {
		return res, fmt.Errorf("failed to load receipt %s: %w", op.OpID, err)
	}
	if receipt.PayloadHash != payloadHash {
		return res, errOpConflict
	}

	switch receipt.Status {
	case model.ReceiptApplied:
		res.Status = model.OpAlreadyApplied
		if len(receipt.Result) > 0 {
			if res.Result, err = Canonicalize(receipt.Result); err != nil {
				return res, err
			}
		}
	case model.ReceiptFailed:
		res.Status = model.OpFailed
		if receipt.Error != nil {
			res.Error = *receipt.Error
		}
	default:
		res.Status = model.OpProcessing
	}
	return res, nil
}

// finish encodes body and stores it against key. A failed store is logged;
// the effects have already been applied so the response still goes out.
func (s *Service) finish(ctx context.Context, key, requestHash string, status int, body interface{}) (*Outcome, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	if key != "" {
		if err := s.ledger.Store(ctx, key, requestHash, status, data); err != nil {
			s.logger.Error(err, "failed to store sync response", "idempotency_key", key)
		}
	}
	s.metrics.SyncBatches.WithLabelValues(strconv.Itoa(status)).Inc()
	return &Outcome{Status: status, Body: data}, nil
}

func validateBatch(req *model.SyncRequest) error {
	if req == nil || len(req.Ops) == 0 {
		return apperrors.NewBadRequest("ops must not be empty", nil)
	}
	if len(req.Ops) > model.MaxSyncBatchSize {
		return apperrors.NewBadRequest(fmt.Sprintf("batch exceeds %d operations", model.MaxSyncBatchSize), nil)
	}
	if err := requestValidator.Validate(req); err != nil {
		return apperrors.NewBadRequest(err.Error(), err)
	}
	for i, op := range req.Ops {
		if op.OperationType != model.OperationUpsertCaseRecord {
			return apperrors.NewBadRequest(fmt.Sprintf("ops[%d]: unsupported operationType %q", i, op.OperationType), nil)
		}
		if _, err := PayloadHash(op.Payload); err != nil {
			return apperrors.NewBadRequest(fmt.Sprintf("ops[%d]: %v", i, err), err)
		}
	}
	return nil
}

func caseRecordFromOp(op model.SyncOp) *model.CaseRecord {
	return &model.CaseRecord{
		ServiceID:   op.ServiceID,
		UserID:      op.UserID,
		ServiceType: op.ServiceID,
		RecordDate:  op.RecordDate,
		Section:     model.SectionContent,
		ItemKey:     model.TemplateAT,
		Content:     op.Payload,
		Source:      model.SourceOffline,
	}
}
