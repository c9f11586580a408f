package imapworker

import "github.com/dusong7/nmail-go/internal/cache"

func uidSetToSlice(set map[uint32]struct{}) []uint32 {
	uids := make([]uint32, 0, len(set))
	for uid := range set {
		uids = append(uids, uid)
	}
	return uids
}

func missingUIDs(want []uint32, have map[uint32]cache.Header) []uint32 {
	var missing []uint32
	for _, uid := range want {
		if _, ok := have[uid]; !ok {
			missing = append(missing, uid)
		}
	}
	return missing
}

func (w *Worker) handleRequest(r Request) {
	switch r.Kind {
	case ListFolders:
		w.handleListFolders(r)
	case ListUids:
		w.handleListUids(r)
	case FetchHeaders:
		w.handleFetchHeaders(r)
	case FetchBody:
		w.handleFetchBody(r)
	case FetchFlags:
		w.handleFetchFlags(r)
	}
}

func (w *Worker) handleListFolders(r Request) {
	cached := w.store.GetFolders()
	w.emitResponse(Response{Request: r, FromCache: true, Status: OK, Folders: cached})

	if !w.cfg.Online {
		w.emitResponse(Response{Request: r, Status: OfflineMiss})
		return
	}
	if err := w.ensureConnected(); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}

	names, err := listFoldersRemote(w.client.RawClient())
	if err != nil {
		w.scheduleRetry(err)
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	w.store.PutFolders(names)
	w.emitResponse(Response{Request: r, Status: OK, Folders: names})
}

func (w *Worker) handleListUids(r Request) {
	cached := w.store.GetUids(r.Folder)
	w.emitResponse(Response{Request: r, FromCache: true, Status: OK, UIDs: uidSetToSlice(cached)})

	if !w.cfg.Online {
		w.emitResponse(Response{Request: r, Status: OfflineMiss})
		return
	}
	if err := w.ensureConnected(); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	if err := w.ensureSelected(r.Folder); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}

	remoteUIDs, err := listUIDsRemote(w.client.RawClient())
	if err != nil {
		w.scheduleRetry(err)
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}

	newSet := make(map[uint32]struct{}, len(remoteUIDs))
	for _, uid := range remoteUIDs {
		newSet[uid] = struct{}{}
	}
	for uid := range cached {
		if _, ok := newSet[uid]; !ok {
			w.store.Expunge(r.Folder, uid)
		}
	}
	w.store.PutUids(r.Folder, newSet)
	w.emitResponse(Response{Request: r, Status: OK, UIDs: remoteUIDs})
}

func (w *Worker) handleFetchHeaders(r Request) {
	cached := w.store.GetHeaders(r.Folder, r.UIDs)
	w.emitResponse(Response{Request: r, FromCache: true, Status: OK, Headers: cached})

	missing := missingUIDs(r.UIDs, cached)
	if len(missing) == 0 {
		return
	}

	if !w.cfg.Online {
		w.emitResponse(Response{Request: r, Status: OfflineMiss})
		return
	}
	if err := w.ensureConnected(); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	if err := w.ensureSelected(r.Folder); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}

	fetched, err := fetchHeadersRemote(w.client.RawClient(), missing)
	if err != nil {
		w.scheduleRetry(err)
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	for uid, h := range fetched {
		w.store.PutHeader(r.Folder, uid, h)
	}
	w.emitResponse(Response{Request: r, Status: OK, Headers: fetched})
}

func (w *Worker) handleFetchBody(r Request) {
	if len(r.UIDs) == 0 {
		return
	}
	uid := r.UIDs[0]

	if body, ok := w.store.GetBody(r.Folder, uid); ok {
		w.emitResponse(Response{Request: r, FromCache: true, Status: OK, Body: &body})
		return
	}
	w.emitResponse(Response{Request: r, FromCache: true, Status: OK})

	if !w.cfg.Online {
		w.emitResponse(Response{Request: r, Status: OfflineMiss})
		return
	}
	if err := w.ensureConnected(); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	if err := w.ensureSelected(r.Folder); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}

	body, header, err := fetchBodyRemote(w.client.RawClient(), uid)
	if err != nil {
		w.scheduleRetry(err)
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	w.store.PutBody(r.Folder, uid, *body)
	if header.MessageID != "" || header.Subject != "" {
		w.store.PutHeader(r.Folder, uid, header)
	}
	w.emitResponse(Response{Request: r, Status: OK, Body: body})
}

func (w *Worker) handleFetchFlags(r Request) {
	cached := make(map[uint32]cache.Flags, len(r.UIDs))
	var missing []uint32
	for _, uid := range r.UIDs {
		if f, ok := w.store.GetFlags(r.Folder, uid); ok {
			cached[uid] = f
		} else {
			missing = append(missing, uid)
		}
	}
	w.emitResponse(Response{Request: r, FromCache: true, Status: OK, Flags: cached})

	if len(missing) == 0 {
		return
	}
	if !w.cfg.Online {
		w.emitResponse(Response{Request: r, Status: OfflineMiss})
		return
	}
	if err := w.ensureConnected(); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	if err := w.ensureSelected(r.Folder); err != nil {
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}

	fetched, err := fetchFlagsRemote(w.client.RawClient(), missing)
	if err != nil {
		w.scheduleRetry(err)
		w.emitResponse(Response{Request: r, Status: ServerError, Err: err})
		return
	}
	for uid, f := range fetched {
		w.store.PutFlags(r.Folder, uid, f)
	}
	w.emitResponse(Response{Request: r, Status: OK, Flags: fetched})
}
