package models

import "time"

// DownloadStatus is the persisted state of a chapter's download task.
// The queue reads its work from these values, which is what lets it
// resume after a restart.
type DownloadStatus string

const (
	DownloadNone        DownloadStatus = "NONE"
	DownloadQueued      DownloadStatus = "QUEUED"
	DownloadDownloading DownloadStatus = "DOWNLOADING"
	DownloadDownloaded  DownloadStatus = "DOWNLOADED"
	DownloadError       DownloadStatus = "ERROR"
	DownloadPaused      DownloadStatus = "PAUSED"
)

var downloadTransitions = map[DownloadStatus][]DownloadStatus{
	DownloadNone:        {DownloadQueued},
	DownloadQueued:      {DownloadDownloading, DownloadPaused},
	DownloadDownloading: {DownloadDownloaded, DownloadError, DownloadPaused},
	DownloadError:       {DownloadQueued},
	DownloadPaused:      {DownloadQueued},
}

// CanTransitionDownload reports whether from -> to is an edge of the
// task state machine. DOWNLOADED has no outgoing edges.
func CanTransitionDownload(from, to DownloadStatus) bool {
	if from == "" {
		from = DownloadNone
	}
	for _, next := range downloadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Enqueued reports whether a task in this state must not be queued again.
func (s DownloadStatus) Enqueued() bool {
	return s == DownloadQueued || s == DownloadDownloading || s == DownloadDownloaded
}

func ParseDownloadStatus(s string) (DownloadStatus, bool) {
	switch st := DownloadStatus(s); st {
	case DownloadNone, DownloadQueued, DownloadDownloading, DownloadDownloaded, DownloadError, DownloadPaused:
		return st, true
	}
	return "", false
}

// DownloadState is the download sub-state embedded in a ChapterRecord.
// Downloaded never exceeds Total; Total is written once, when the page
// list is first resolved.
type DownloadState struct {
	Status     DownloadStatus `json:"status"`
	Total      int            `json:"total"`
	Downloaded int            `json:"downloaded"`
	Error      string         `json:"error,omitempty"`
	QueueSeq   int64          `json:"queue_seq,omitempty"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}

// DownloadPatch is a field-scoped write of a chapter's download state.
// When IfStatus is non-empty the write only applies while the stored
// status is one of them; otherwise the repository reports an invalid
// transition and writes nothing.
type DownloadPatch struct {
	Status     *DownloadStatus
	Total      *int
	Downloaded *int
	Error      *string
	QueueSeq   *int64
	IfStatus   []DownloadStatus
}

// DownloadTask is a queue entry as shown to observers.
type DownloadTask struct {
	ChapterID     string        `json:"chapter_id"`
	MangaID       string        `json:"manga_id"`
	SourceID      string        `json:"source_id"`
	ChapterNumber float64       `json:"chapter_number"`
	ChapterTitle  string        `json:"chapter_title,omitempty"`
	State         DownloadState `json:"state"`
}

// TaskOf builds the observer view of a chapter's download.
func TaskOf(c ChapterRecord) DownloadTask {
	src, _, _ := SplitCompoundID(c.MangaID)
	return DownloadTask{
		ChapterID:     c.ID,
		MangaID:       c.MangaID,
		SourceID:      src,
		ChapterNumber: c.Number,
		ChapterTitle:  c.Title,
		State:         c.Download,
	}
}
