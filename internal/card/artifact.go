package card

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/melodyhq/melody/internal/domain"
)

// Artifact is an exported shareable card: a fully painted PNG keyed by the
// time range it summarizes.
type Artifact struct {
	Range     domain.TimeRange
	PNG       []byte
	CreatedAt time.Time
}

// Filename returns the download name, embedding the range and a timestamp
func (a *Artifact) Filename() string {
	return fmt.Sprintf("melody-%s-%d.png", a.Range, a.CreatedAt.UnixMilli())
}

// DataURL returns the artifact as an embeddable base64 data URL
func (a *Artifact) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(a.PNG)
}
