package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/broker"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/obs"
	"github.com/flowmesh/jobbroker/internal/protocol"
)

// handle dispatches one decoded envelope from conn. It is the hub's sole
// entry point for connection-originated messages, enforcing the role
// allowlist defense-in-depth check before ever touching the broker.
func (h *Hub) handle(conn *Connection, env protocol.Envelope) {
	if !protocol.Allowed(conn.Role(), env.Type) {
		h.log.Warn("rejected message outside connection role",
			zap.String("conn_id", conn.ID()), zap.String("role", string(conn.Role())), zap.String("type", env.Type))
		h.sendError(conn, broker.Validation(fmt.Sprintf(
			"message type %q is not allowed for role %q; allowed types: %s",
			env.Type, conn.Role(), strings.Join(protocol.AllowedTypeNames(conn.Role()), ", "))))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch conn.Role() {
	case protocol.RoleWorker:
		h.handleWorkerMessage(ctx, conn, env)
	case protocol.RoleClient:
		h.handleClientMessage(ctx, conn, env)
	case protocol.RoleMonitor:
		h.handleMonitorMessage(ctx, conn, env)
	}
}

func (h *Hub) handleWorkerMessage(ctx context.Context, conn *Connection, env protocol.Envelope) {
	switch protocol.WorkerMessageType(env.Type) {
	case protocol.WorkerMsgRegister:
		var p protocol.RegisterPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if p.WorkerID != "" && p.WorkerID != conn.ID() {
			h.sendError(conn, broker.Validation("worker_id must match the connection's bound id"))
			return
		}
		worker := jobmodel.Worker{
			WorkerID:     conn.ID(),
			MachineID:    p.MachineID,
			Services:     p.Services,
			Hardware:     p.Hardware,
			Models:       p.Models,
			WorkflowID:   p.WorkflowID,
			Custom:       p.Custom,
			Status:       jobmodel.WorkerIdle,
			ConnectedAt:  time.Now().UTC(),
			LastActivity: time.Now().UTC(),
		}
		if len(p.CustomerAccess) > 0 {
			_ = json.Unmarshal(p.CustomerAccess, &worker.CustomerAccess)
		}
		if err := h.store.PutWorker(ctx, worker); err != nil {
			h.log.Warn("register worker", zap.Error(err))
		}

	case protocol.WorkerMsgRequestJob:
		worker, err := h.store.GetWorker(ctx, conn.ID())
		if err != nil {
			h.sendError(conn, err)
			return
		}
		job, err := h.broker.ClaimJob(ctx, worker)
		if err != nil {
			if errors.Is(err, broker.NotFound("")) {
				h.sendTo(conn, "no_match", struct{}{})
				return
			}
			h.sendError(conn, err)
			return
		}
		obs.JobsClaimed.Inc()
		h.sendTo(conn, "job_assigned", job)

	case protocol.WorkerMsgProgress:
		var p protocol.ProgressPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if err := h.broker.ReportProgress(ctx, conn.ID(), p.JobID, p.Progress, p.Message); err != nil {
			h.sendError(conn, err)
		}

	case protocol.WorkerMsgComplete:
		var p protocol.CompletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		job, err := h.broker.CompleteJob(ctx, conn.ID(), p.JobID, p.Result)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		obs.JobsCompleted.Inc()
		h.sendTo(conn, "job_completed_ack", job)

	case protocol.WorkerMsgFail:
		var p protocol.FailPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		job, err := h.broker.FailJob(ctx, conn.ID(), p.JobID, p.Error)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		if job.Status == jobmodel.StatusFailed {
			obs.JobsFailed.Inc()
		} else {
			obs.JobsRequeued.Inc()
		}
		h.sendTo(conn, "job_fail_ack", job)

	case protocol.WorkerMsgHeartbeat:
		// touch() already happened in readLoop; nothing further to do.

	case protocol.WorkerMsgStatusUpdate:
		var p protocol.StatusUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		worker, err := h.store.GetWorker(ctx, conn.ID())
		if err != nil {
			return
		}
		worker.Status = jobmodel.WorkerStatus(p.Status)
		worker.LastActivity = time.Now().UTC()
		_ = h.store.PutWorker(ctx, worker)
	}
}

func (h *Hub) handleClientMessage(ctx context.Context, conn *Connection, env protocol.Envelope) {
	switch protocol.ClientMessageType(env.Type) {
	case protocol.ClientMsgSubmitJob:
		var p protocol.SubmitJobPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		job := jobmodel.Job{
			ServiceRequired:  p.ServiceRequired,
			JobType:          p.JobType,
			Priority:         p.Priority,
			Payload:          p.Payload,
			CustomerID:       p.CustomerID,
			WorkflowID:       p.WorkflowID,
			WorkflowPriority: p.WorkflowPriority,
			MaxRetries:       p.MaxRetries,
		}
		if len(p.Requirements) > 0 {
			_ = json.Unmarshal(p.Requirements, &job.Requirements)
		}
		submitted, err := h.broker.SubmitJob(ctx, job)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		obs.JobsSubmitted.Inc()
		h.sendTo(conn, "job_submitted_ack", submitted)

	case protocol.ClientMsgCancelJob:
		var p protocol.CancelJobPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		job, err := h.broker.CancelJob(ctx, p.JobID)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		obs.JobsCancelled.Inc()
		h.sendTo(conn, "job_cancelled_ack", job)

	case protocol.ClientMsgSyncJob:
		var p protocol.SyncJobPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		job, err := h.broker.SyncJob(ctx, p.JobID)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.sendTo(conn, "job_sync", job)

	case protocol.ClientMsgSubscribe:
		// Accepted and ignored: no subscription state is kept, and the
		// event fan-out (Broadcast) reaches monitor connections only.
	}
}

func (h *Hub) handleMonitorMessage(ctx context.Context, conn *Connection, env protocol.Envelope) {
	switch protocol.MonitorMessageType(env.Type) {
	case protocol.MonitorMsgRequestSnapshot:
		pendingIDs, err := h.store.PendingSnapshot(ctx, 0)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		activeIDs, err := h.store.ActiveSnapshot(ctx)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		completedIDs, err := h.store.TerminalSnapshot(ctx, jobmodel.StatusCompleted)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		failedIDs, err := h.store.TerminalSnapshot(ctx, jobmodel.StatusFailed)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		workerIDs, err := h.store.ListWorkerIDs(ctx)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.sendTo(conn, string(protocol.ServerMsgSnapshot), map[string]interface{}{
			"pending_job_ids":   pendingIDs,
			"active_job_ids":    activeIDs,
			"completed_job_ids": completedIDs,
			"failed_job_ids":    failedIDs,
			"worker_ids":        workerIDs,
			"counts": map[string]int{
				"pending":   len(pendingIDs),
				"active":    len(activeIDs),
				"completed": len(completedIDs),
				"failed":    len(failedIDs),
				"workers":   len(workerIDs),
			},
		})
	case protocol.MonitorMsgResync:
		// Accepted and ignored: the hub replays nothing for a resync
		// request.
	}
}

func (h *Hub) sendTo(conn *Connection, msgType string, payload interface{}) {
	env, err := protocol.Encode(msgType, payload)
	if err != nil {
		return
	}
	env.ID = uuid.NewString()
	conn.Send(env)
}

func (h *Hub) sendError(conn *Connection, err error) {
	h.sendTo(conn, "error", map[string]string{
		"kind":    string(broker.KindOf(err)),
		"message": err.Error(),
	})
}
