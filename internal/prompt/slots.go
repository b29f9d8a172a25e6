package prompt

// Slot is one position of a mode's deck. It fills the gap when the analysis
// does not produce a prompt for that position.
type Slot struct {
	Title     string
	Concept   string
	Execution []string
}

var coverSlots = []Slot{
	{
		Title:   "Iconic Hero Still Life",
		Concept: "Bold, confident product presentation with dramatic composition",
		Execution: []string{
			"Center-framed product on seamless background",
			"Strong directional key light from 45° angle",
			"Negative space emphasizing product authority",
		},
	},
	{
		Title:   "Extreme Macro Detail",
		Concept: "Surface texture and material craftsmanship",
		Execution: []string{
			"Hyper-close-up on product surface and authentic markings",
			"Shallow depth of field, bokeh background",
		},
	},
	{
		Title:   "Dynamic Particle Interaction",
		Concept: "Product surrounded by motion and energy",
		Execution: []string{
			"Particles or light streaks around the product, environment only",
			"Frozen high-speed motion, product untouched and centered",
		},
	},
	{
		Title:   "Minimal Sculptural Arrangement",
		Concept: "Abstract forms meeting product design",
		Execution: []string{
			"Product placed among geometric shapes",
			"Monochromatic or tonal color scheme, museum-quality lighting",
		},
	},
	{
		Title:   "Floating Elements Composition",
		Concept: "Weightlessness, innovation, future-forward",
		Execution: []string{
			"Product appears to levitate with supporting elements mid-air",
			"Soft shadows suggesting gentle elevation",
		},
	},
	{
		Title:   "Sensory Close-Up",
		Concept: "Tactile invitation, almost touchable realism",
		Execution: []string{
			"Tight crop emphasizing shape and form",
			"Warm, inviting light across the surface",
		},
	},
	{
		Title:   "Precision Detail Feature Study",
		Concept: "Premium micro-details and feature craftsmanship",
		Execution: []string{
			"Medium-macro close-up on a signature feature",
			"Raking side light, zero dust or fingerprints",
		},
	},
	{
		Title:   "Ingredient/Component Abstraction",
		Concept: "Symbolic representation, not literal",
		Execution: []string{
			"Refined material metaphors supporting the product",
			"No clutter, no readable text",
		},
	},
	{
		Title:   "Surreal Elegant Fusion",
		Concept: "Reality meets imagination, unexpected yet harmonious",
		Execution: []string{
			"Dreamlike environment, product photographically accurate",
		},
	},
	{
		Title:   "Color Story",
		Concept: "Scene built entirely from the product's own palette",
		Execution: []string{
			"Background, props and light tinted to the product's dominant color",
		},
	},
}

var previewSlots = []Slot{
	{Title: "Studio Front", Concept: "Straight-on view on a clean white background"},
	{Title: "Three-Quarter View", Concept: "45 degree angle showing front and side"},
	{Title: "Side Profile", Concept: "Pure side view revealing depth and silhouette"},
	{Title: "Back View", Concept: "Rear of the product with its real details"},
	{Title: "Top-Down", Concept: "Overhead view on a neutral surface"},
	{Title: "Detail Close-Up", Concept: "Close crop on material and finish"},
	{Title: "In Use", Concept: "Realistic lifestyle scene with the product in use"},
	{Title: "Scale In Hand", Concept: "Product held in a hand to show true size"},
	{Title: "Contents and Accessories", Concept: "Everything in the box laid out neatly"},
	{Title: "Flat Lay", Concept: "Styled flat lay with complementary props"},
}

var topSlots = []Slot{
	{Title: "Hero Shot", Concept: "The cover image that wins the click"},
	{Title: "Cart Preview", Concept: "Clean thumbnail that reads at small sizes"},
	{Title: "Abundance", Concept: "Quantity and value in a single glance"},
	{Title: "Size Comparison", Concept: "True-to-life dimensions next to familiar objects"},
	{Title: "Scenario Comparison", Concept: "Before and after, with and without the product"},
	{Title: "Immersive Scenario", Concept: "The product in its ideal real-life setting"},
	{Title: "Pain/Solution", Concept: "The problem and how the product solves it"},
	{Title: "USP Visualization", Concept: "The core selling point made visible"},
	{Title: "Close-up/Texture", Concept: "Material, texture and build quality"},
	{Title: "What You Get", Concept: "Every item included, neatly arranged"},
	{Title: "How-to", Concept: "Simple numbered steps for using the product"},
}
