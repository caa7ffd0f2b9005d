package models

// Category groups library titles. Deleting one drops memberships only.
type Category struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Order    int      `json:"order"`
	MangaIDs []string `json:"manga_ids"`
}
