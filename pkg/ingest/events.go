package ingest

import (
	"fmt"
	"strings"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
	"github.com/groundlink/missionwatch/pkg/state"
)

// Log entry badges, also the filterable entry types.
const (
	entryInit  = "INIT"
	entryRun   = "RUN"
	entrySched = "SCHED"
	entryStart = "START"
	entryDone  = "DONE"
	entryFail  = "FAIL"
	entryRetry = "RETRY"
	entryInfo  = "INFO"
	entryWarn  = "WARN"
	entryComm  = "COMM"
)

// handleEvent applies one stream frame. Runs on the apply loop only.
func (i *Ingestor) handleEvent(ev models.Event) {
	if !ev.Type.Known() {
		// Forward compatibility: unknown types are ignored, not errors.
		i.meter.RecordEventUnknown()
		i.logger.Debug("ignoring unknown event type", logging.F("type", string(ev.Type)))
		return
	}

	// Run-scoped frames for a run other than the observed one are not ours.
	if ev.RunID != "" {
		if observed := i.store.RunID(); observed != "" && observed != ev.RunID {
			return
		}
	}

	i.meter.RecordEventApplied(string(ev.Type))

	switch ev.Type {
	case models.EventInit:
		i.handleInit(ev)
	case models.EventRunStarted:
		i.handleRunStarted(ev)
	case models.EventNodeScheduled:
		i.applyNode(ev, models.NodeStatusScheduled, entrySched, "queued for execution")
	case models.EventNodeStarted:
		i.applyNode(ev, models.NodeStatusRunning, entryStart, "execution started")
	case models.EventNodeCompleted:
		i.applyNode(ev, models.NodeStatusCompleted, entryDone, "completed")
		i.checkConclusion()
	case models.EventNodeFailed:
		msg := "failed"
		if ev.Error != "" {
			msg = "failed: " + ev.Error
		}
		i.applyNode(ev, models.NodeStatusFailed, entryFail, msg)
		i.checkConclusion()
	case models.EventNodeRetrying:
		msg := "retrying"
		if ev.RetryCount > 0 {
			msg = fmt.Sprintf("retrying (attempt %d)", ev.RetryCount)
		}
		i.applyNode(ev, models.NodeStatusRetrying, entryRetry, msg)
	case models.EventRunCompleted:
		i.applyRunStatus(models.RunStatusCompleted, ev.Error)
	case models.EventRunFailed:
		i.applyRunStatus(models.RunStatusFailed, ev.Error)
	case models.EventRunAborted:
		i.applyRunStatus(models.RunStatusAborted, ev.Error)
	case models.EventMessageLogged:
		i.handleMessageLogged(ev)
	case models.EventMessageRelayed:
		i.handleMessageRelayed(ev)
	}

	i.notifyApplied()
}

// handleInit adopts the first active run when nothing is observed yet; the
// reconciliation fetch hydrates its state.
func (i *Ingestor) handleInit(ev models.Event) {
	i.log.Appendf(entryInit, "", fmt.Sprintf("stream ready, %d active run(s)", len(ev.ActiveRuns)))
	if i.store.RunID() != "" || len(ev.ActiveRuns) == 0 {
		return
	}
	runID := ev.ActiveRuns[0]
	i.store.SetRunIdentity(runID, "")
	i.reconcile(runID)
}

// handleRunStarted binds the store to the new run and hydrates it.
func (i *Ingestor) handleRunStarted(ev models.Event) {
	i.store.SetRunIdentity(ev.RunID, ev.MissionID)
	i.log.Appendf(entryRun, "", "run started: "+ev.RunID)
	i.reconcile(ev.RunID)
}

// applyNode performs one idempotent node transition plus its log entry.
// Every inbound frame yields at most this one entry; duplicate deliveries of
// a terminal frame leave the state untouched but still log, which is the
// accepted behavior for re-delivery.
func (i *Ingestor) applyNode(ev models.Event, status models.NodeStatus, badge, msg string) {
	if ev.NodeID == "" {
		return
	}
	i.store.ApplyNodeStatus(ev.NodeID, status, state.Extras{
		Output: ev.Output,
		Error:  ev.Error,
		Files:  ev.Files,
	})
	i.meter.SetNodesTracked(i.store.NodeCount())
	i.log.Appendf(badge, i.store.NodeLabel(ev.NodeID), msg)
}

// applyRunStatus records an engine-reported run transition.
func (i *Ingestor) applyRunStatus(status models.RunStatus, errText string) {
	changed := i.store.SetRunStatus(status, errText)
	msg := "run " + string(status)
	if errText != "" {
		msg += ": " + errText
	}
	i.log.Appendf(entryRun, "", msg)
	if changed && status.Terminal() && i.hooks.OnRunConcluded != nil {
		i.hooks.OnRunConcluded(status)
	}
}

// checkConclusion concludes the run locally once every node is terminal,
// guarding against a missed run_completed/run_failed frame.
func (i *Ingestor) checkConclusion() {
	if outcome, concluded := i.store.ConcludeIfDone(); concluded {
		i.announceConclusion(outcome)
	}
}

// handleMessageLogged maps engine log levels onto entry badges.
func (i *Ingestor) handleMessageLogged(ev models.Event) {
	badge := entryInfo
	switch strings.ToLower(ev.Level) {
	case "error":
		badge = entryFail
	case "warn", "warning":
		badge = entryWarn
	}
	label := ""
	if ev.NodeID != "" {
		label = i.store.NodeLabel(ev.NodeID)
	}
	i.log.Appendf(badge, label, ev.Message)
}

// handleMessageRelayed records one agent-to-agent transmission.
func (i *Ingestor) handleMessageRelayed(ev models.Event) {
	if ev.Relay == nil {
		return
	}
	i.log.Appendf(entryComm, ev.Relay.From,
		fmt.Sprintf("to %s: %s", ev.Relay.To, ev.Relay.Content))
}
