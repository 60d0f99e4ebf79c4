package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	MaxLinks       = 50
	MaxBioLength   = 500
	MaxThemeCSSLen = 8 << 10
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Themes are the built-in presets. A theme may also be a single hex accent colour.
var Themes = map[string]bool{
	"default": true,
	"dark":    true,
	"light":   true,
	"retro":   true,
	"ocean":   true,
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL: %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https: %q", raw)
	}
	return nil
}

func ValidateColor(color string) error {
	if !colorPattern.MatchString(color) {
		return fmt.Errorf("invalid colour: %q", color)
	}
	return nil
}

func ValidateTheme(theme string) error {
	if Themes[theme] {
		return nil
	}
	if ValidateColor(theme) == nil {
		return nil
	}
	return fmt.Errorf("unknown theme: %q", theme)
}

func ValidateBio(bio string) error {
	if len(bio) > MaxBioLength {
		return fmt.Errorf("bio is too long (max %d characters)", MaxBioLength)
	}
	return nil
}

// ValidateThemeCSS keeps custom CSS inside the page's style element.
func ValidateThemeCSS(css string) error {
	if len(css) > MaxThemeCSSLen {
		return errors.New("custom theme is too large")
	}
	if strings.Contains(css, "<") {
		return errors.New("custom theme may not contain markup")
	}
	return nil
}

// ValidateLinks checks every URL and that names line up with links.
func ValidateLinks(links, names []string) error {
	if len(links) > MaxLinks {
		return fmt.Errorf("too many links (max %d)", MaxLinks)
	}
	if names != nil && len(names) != len(links) {
		return errors.New("each link needs exactly one name")
	}
	for _, link := range links {
		err := ValidateURL(link)
		if err != nil {
			return err
		}
	}
	return nil
}
