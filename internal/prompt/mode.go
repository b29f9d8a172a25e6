package prompt

import (
	"fmt"
	"slices"
	"strings"
)

type Mode string

const (
	ModeCover   Mode = "cover"
	ModePreview Mode = "preview"
	ModeTop     Mode = "top"
	ModeAdapt   Mode = "adapt"
)

var modes = []Mode{ModeCover, ModePreview, ModeTop, ModeAdapt}

func Modes() []Mode {
	return slices.Clone(modes)
}

func ParseMode(v string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(v)))
	if slices.Contains(modes, m) {
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (available: cover, preview, top, adapt)", v)
}

// strategy is everything that differs between modes.
type strategy struct {
	// count is the fixed prompt count; zero means one per color source.
	count     int
	minImages int
	// analyze modes call the backend once to understand the product. The
	// others derive their prompts from the image list with structural.
	analyze    bool
	structural func(images []string) []Spec
	// keepAnalysis persists the raw analysis text next to the prompts.
	keepAnalysis bool
	slots        []Slot
	extract      func(analysis string) map[int]Spec
	bind         func(specs []Spec, images []string, hero int)
	instruction  string
	// render wraps a stored prompt before it is sent; empty sends it as is.
	render string
}

var strategies = map[Mode]strategy{
	ModeCover: {
		count:       10,
		minImages:   1,
		analyze:     true,
		slots:       coverSlots,
		extract:     extractJSONPrompts,
		bind:        bindHero,
		instruction: coverInstruction,
		render:      coverRender,
	},
	ModePreview: {
		count:       10,
		minImages:   1,
		analyze:     true,
		slots:       previewSlots,
		extract:     extractJSONPrompts,
		bind:        bindHero,
		instruction: previewInstruction,
		render:      previewRender,
	},
	ModeTop: {
		count:        11,
		minImages:    1,
		analyze:      true,
		keepAnalysis: true,
		slots:        topSlots,
		extract:      extractSectionPrompts,
		bind:         bindTop,
		instruction:  topInstruction,
		render:       topRender,
	},
	ModeAdapt: {
		minImages:  2,
		structural: adaptSpecs,
	},
}

func strategyFor(m Mode) (strategy, error) {
	s, ok := strategies[m]
	if !ok {
		return strategy{}, fmt.Errorf("unknown mode %q", m)
	}
	return s, nil
}

// Count is the number of prompts mode yields for the given image count.
func Count(m Mode, images int) int {
	st, ok := strategies[m]
	if !ok {
		return 0
	}
	if st.count == 0 {
		return max(images-1, 0)
	}
	return st.count
}

func bindHero(specs []Spec, images []string, hero int) {
	for i := range specs {
		specs[i].ReferenceImages = []string{images[hero]}
	}
}

// bindTop gives the hero shot every image, hero first, and the rest of the
// deck the hero alone.
func bindTop(specs []Spec, images []string, hero int) {
	bindHero(specs, images, hero)
	if len(specs) == 0 {
		return
	}
	all := make([]string, 0, len(images))
	all = append(all, images[hero])
	for i, p := range images {
		if i != hero {
			all = append(all, p)
		}
	}
	specs[0].ReferenceImages = all
}
