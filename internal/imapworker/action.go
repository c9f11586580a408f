package imapworker

import "github.com/dusong7/nmail-go/internal/cache"

func (w *Worker) handleAction(a Action) (exit bool) {
	if a.Kind == LogoutAndExit {
		w.shutdown()
		return true
	}

	if !w.cfg.Online {
		w.emitResult(Result{Action: a, OK: false, Err: errOffline})
		return false
	}
	if err := w.ensureConnected(); err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return false
	}

	switch a.Kind {
	case MarkSeen:
		w.doMarkSeen(a)
	case MoveMessage:
		w.doMoveMessage(a)
	case DeleteMessage:
		w.doDeleteMessage(a)
	case UploadDraft:
		w.doUploadDraft(a)
	}
	return false
}

func (w *Worker) doMarkSeen(a Action) {
	if err := w.ensureSelected(a.Folder); err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}

	uids, err := uidListToIMAP([]uint32{a.UID})
	if err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}
	if err := w.client.StoreFlags(uids, flagsToIMAP(cache.FlagSeen), true); err != nil {
		w.scheduleRetry(err)
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}

	if f, ok := w.store.GetFlags(a.Folder, a.UID); ok {
		w.store.PutFlags(a.Folder, a.UID, f|cache.FlagSeen)
	} else {
		w.store.PutFlags(a.Folder, a.UID, cache.FlagSeen)
	}
	w.emitResult(Result{Action: a, OK: true})
}

func (w *Worker) doMoveMessage(a Action) {
	if err := w.ensureSelected(a.Folder); err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}

	uids, err := uidListToIMAP([]uint32{a.UID})
	if err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}
	if err := w.client.CopyMessages(uids, a.Dest); err != nil {
		w.scheduleRetry(err)
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}
	if err := w.client.DeleteMessagesByUID(uids); err != nil {
		w.scheduleRetry(err)
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}

	w.store.Expunge(a.Folder, a.UID)
	w.emitResult(Result{Action: a, OK: true})
}

func (w *Worker) doDeleteMessage(a Action) {
	if err := w.ensureSelected(a.Folder); err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}

	uids, err := uidListToIMAP([]uint32{a.UID})
	if err != nil {
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}
	if err := w.client.DeleteMessagesByUID(uids); err != nil {
		w.scheduleRetry(err)
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}

	w.store.Expunge(a.Folder, a.UID)
	w.emitResult(Result{Action: a, OK: true})
}

func (w *Worker) doUploadDraft(a Action) {
	uid, err := w.client.AppendMessage(a.Folder, nil, timeZero, a.RFC822)
	if err != nil {
		w.scheduleRetry(err)
		w.emitResult(Result{Action: a, OK: false, Err: err})
		return
	}
	w.emitResult(Result{Action: a, OK: true, UID: uint32(uid)})
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	w.prefetchQ = nil
	w.pendingPrefetch = make(map[string]struct{})
	w.mu.Unlock()

	if w.idle != nil {
		w.idle.Stop()
	}
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
	w.state = Disconnected
	w.emitStatus(StatusUpdate{Connected: false, State: Disconnected})
}
