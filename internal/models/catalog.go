package models

// CatalogEntry is the metadata the catalog knows about a media item
type CatalogEntry struct {
	Ref       MediaRef `json:"ref"`
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"`
	PosterRef string   `json:"poster_ref,omitempty"`
	Genres    []string `json:"genres,omitempty"`

	// Shows only. TotalEpisodes is nil when the catalog does not know it.
	TotalEpisodes *int `json:"total_episodes,omitempty"`
	Seasons       int  `json:"seasons,omitempty"`
}

// EpisodeTotal returns the known episode total, 0 when unknown
func (c *CatalogEntry) EpisodeTotal() int {
	if c == nil || c.TotalEpisodes == nil {
		return 0
	}
	return *c.TotalEpisodes
}
