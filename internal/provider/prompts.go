package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var ErrUnknownPromptStyle = errors.New("unknown prompt style")

var builtinPrompts = map[string]string{
	"detailed": "Describe this image in detail, including the main subjects, setting, " +
		"colors, lighting, any visible text, and the overall mood. Write it as plain prose " +
		"suitable as alt text for someone who cannot see the image.",
	"concise": "Describe this image in one or two sentences, focusing on the main subject.",
	"narrative": "Describe this image as a short narrative: what is happening, who or what is " +
		"involved, and what might have happened just before or after.",
	"artistic": "Describe this image from an artistic perspective: composition, color palette, " +
		"lighting, texture, style and the emotional effect on the viewer.",
	"technical": "Describe the technical qualities of this image: likely camera settings, focus, " +
		"depth of field, exposure, noise, and composition techniques in use.",
	"colorful": "Describe this image with a focus on its colors: name the dominant and accent " +
		"colors, where they appear, and how they interact.",
	"simple": "Describe this image in a single simple sentence.",
}

// Prompts resolves prompt styles to prompt text. Custom entries override
// built-in styles with the same name.
type Prompts struct {
	styles map[string]string
}

func NewPrompts(custom map[string]string) *Prompts {
	styles := lo.Assign(builtinPrompts)
	for k, v := range custom {
		styles[strings.ToLower(k)] = v
	}
	return &Prompts{styles: styles}
}

func (p *Prompts) Get(style string) (string, error) {
	text, ok := p.styles[strings.ToLower(style)]
	if !ok {
		return "", fmt.Errorf("%w %q (known: %s)", ErrUnknownPromptStyle, style, strings.Join(p.Styles(), ", "))
	}
	return text, nil
}

func (p *Prompts) Styles() []string {
	names := lo.Keys(p.styles)
	sort.Strings(names)
	return names
}
