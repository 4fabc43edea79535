package device

import (
	"github.com/melodyhq/melody/internal/domain"
	"github.com/zmb3/spotify/v2"
)

// fullTrackToDomain converts the vendor track shape into the domain model.
// Vendor types never leave this package.
func fullTrackToDomain(t *spotify.FullTrack) *domain.Track {
	if t == nil {
		return nil
	}

	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	images := make([]domain.Image, 0, len(t.Album.Images))
	for _, img := range t.Album.Images {
		images = append(images, domain.Image{
			URL:    img.URL,
			Width:  int(img.Width),
			Height: int(img.Height),
		})
	}

	return &domain.Track{
		ID:          string(t.ID),
		URI:         string(t.URI),
		Name:        t.Name,
		Artists:     artists,
		AlbumName:   t.Album.Name,
		AlbumImages: images,
		DurationMS:  int(t.Duration),
		PreviewURL:  t.PreviewURL,
	}
}
