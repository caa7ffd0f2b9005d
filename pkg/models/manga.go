package models

import (
	"strings"
	"time"
)

// MangaStatus is the publication status reported by a source.
type MangaStatus string

const (
	StatusUnknown   MangaStatus = "unknown"
	StatusOngoing   MangaStatus = "ongoing"
	StatusCompleted MangaStatus = "completed"
	StatusHiatus    MangaStatus = "hiatus"
	StatusCancelled MangaStatus = "cancelled"
)

var mangaStatusWords = map[string]MangaStatus{
	"ongoing":       StatusOngoing,
	"on going":      StatusOngoing,
	"publishing":    StatusOngoing,
	"releasing":     StatusOngoing,
	"updating":      StatusOngoing,
	"en curso":      StatusOngoing,
	"em andamento":  StatusOngoing,
	"en cours":      StatusOngoing,
	"laufend":       StatusOngoing,
	"completed":     StatusCompleted,
	"complete":      StatusCompleted,
	"finished":      StatusCompleted,
	"end":           StatusCompleted,
	"ended":         StatusCompleted,
	"completo":      StatusCompleted,
	"completado":    StatusCompleted,
	"finalizado":    StatusCompleted,
	"terminé":       StatusCompleted,
	"abgeschlossen": StatusCompleted,
	"hiatus":        StatusHiatus,
	"on hiatus":     StatusHiatus,
	"on hold":       StatusHiatus,
	"pausado":       StatusHiatus,
	"cancelled":     StatusCancelled,
	"canceled":      StatusCancelled,
	"dropped":       StatusCancelled,
	"cancelado":     StatusCancelled,
	"abandonné":     StatusCancelled,
}

// ParseMangaStatus maps the free-form status text found on source pages
// onto the closed vocabulary. Matching ignores case, punctuation runs and
// surrounding noise such as "Status: OnGoing".
func ParseMangaStatus(s string) MangaStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StatusUnknown
	}
	s = strings.TrimPrefix(s, "status")
	s = strings.Trim(s, " :\t\n")
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t' || r == '\n'
	}), " ")
	if st, ok := mangaStatusWords[s]; ok {
		return st
	}
	// "OnGoing" style camel case collapses to "ongoing".
	if st, ok := mangaStatusWords[strings.ReplaceAll(s, " ", "")]; ok {
		return st
	}
	return StatusUnknown
}

// ReadingStatus is the user's own shelf for a title.
type ReadingStatus string

const (
	ReadingStatusReading    ReadingStatus = "reading"
	ReadingStatusCompleted  ReadingStatus = "completed"
	ReadingStatusOnHold     ReadingStatus = "on_hold"
	ReadingStatusDropped    ReadingStatus = "dropped"
	ReadingStatusPlanToRead ReadingStatus = "plan_to_read"
)

// ParseReadingStatus accepts the canonical values and their spaced or
// hyphenated forms.
func ParseReadingStatus(s string) (ReadingStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch ReadingStatus(s) {
	case ReadingStatusReading, ReadingStatusCompleted, ReadingStatusOnHold,
		ReadingStatusDropped, ReadingStatusPlanToRead:
		return ReadingStatus(s), true
	case "onhold":
		return ReadingStatusOnHold, true
	case "plantoread", "plan_to_reading":
		return ReadingStatusPlanToRead, true
	}
	return "", false
}

// MangaRecord is the persisted form of a title. Removing it from the
// library only clears InLibrary; chapters, progress and history stay.
type MangaRecord struct {
	ID            string           `json:"id"`
	SourceID      string           `json:"source_id"`
	RawID         string           `json:"raw_id"`
	URL           string           `json:"url"`
	Title         string           `json:"title"`
	CoverURL      string           `json:"cover_url,omitempty"`
	Author        string           `json:"author,omitempty"`
	Artist        string           `json:"artist,omitempty"`
	Status        MangaStatus      `json:"status"`
	Description   string           `json:"description,omitempty"`
	Genres        []string         `json:"genres"`
	InLibrary     bool             `json:"in_library"`
	ReadingStatus ReadingStatus    `json:"reading_status"`
	Chapters      []ChapterRecord  `json:"chapters"`
	Progress      *ReadingProgress `json:"progress,omitempty"`
	Categories    []string         `json:"categories,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MangaPatch is a field-scoped write: nil fields are left untouched.
// When the record does not exist it is created with defaults for the
// unset fields.
type MangaPatch struct {
	ID            string
	URL           *string
	Title         *string
	CoverURL      *string
	Author        *string
	Artist        *string
	Status        *MangaStatus
	Description   *string
	Genres        []string // nil leaves genres unchanged
	InLibrary     *bool
	ReadingStatus *ReadingStatus
}

// PatchFromDetails copies every descriptive field of d into a patch.
// Library membership and reading status are left to the caller.
func PatchFromDetails(d MangaDetails) MangaPatch {
	genres := d.Genres
	if genres == nil {
		genres = []string{}
	}
	return MangaPatch{
		ID:          d.ID,
		URL:         Ptr(d.URL),
		Title:       Ptr(d.Title),
		CoverURL:    Ptr(d.CoverURL),
		Author:      Ptr(d.Author),
		Artist:      Ptr(d.Artist),
		Status:      Ptr(d.Status),
		Description: Ptr(d.Description),
		Genres:      genres,
	}
}
