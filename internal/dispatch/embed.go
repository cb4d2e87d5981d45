package dispatch

// Embed is a rich message attachment. Zero fields are omitted.
type Embed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color,omitempty"`
	Image       *EmbedMedia `json:"image,omitempty"`
	Thumbnail   *EmbedMedia `json:"thumbnail,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

// BuildEmbed returns nil unless at least one content field is set; the color
// alone does not make an embed.
func BuildEmbed(p Params) *Embed {
	if p.EmbedTitle == "" && p.EmbedDescription == "" && p.EmbedURL == "" && p.EmbedImage == "" && p.EmbedThumbnail == "" {
		return nil
	}
	e := &Embed{
		Title:       p.EmbedTitle,
		Description: p.EmbedDescription,
		URL:         p.EmbedURL,
		Color:       p.EmbedColor,
	}
	if p.EmbedImage != "" {
		e.Image = &EmbedMedia{URL: p.EmbedImage}
	}
	if p.EmbedThumbnail != "" {
		e.Thumbnail = &EmbedMedia{URL: p.EmbedThumbnail}
	}
	return e
}
