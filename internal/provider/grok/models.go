package grok

// Model binds a public model id to the upstream model name, mode and
// rate-limit bucket. RequiresSuper gates the model to ssoSuper tokens.
type Model struct {
	ID             string
	GrokModel      string
	ModelMode      string
	RateLimitModel string
	CostMultiplier int
	RequiresSuper  bool
	Video          bool
	Reasoning      bool
}

// Rate-limit bucket ids polled by the background refresher.
const (
	normalRateLimitModel = "grok-3"
	heavyRateLimitModel  = "grok-4-heavy"
)

const heavyModelID = "grok-4-heavy"

var models = []Model{
	{ID: "grok-3", GrokModel: "grok-3", ModelMode: "MODEL_MODE_AUTO", RateLimitModel: "grok-3", CostMultiplier: 1},
	{ID: "grok-3-fast", GrokModel: "grok-3", ModelMode: "MODEL_MODE_FAST", RateLimitModel: "grok-3", CostMultiplier: 1},
	{ID: "grok-3-thinking", GrokModel: "grok-3", ModelMode: "MODEL_MODE_REASONING", RateLimitModel: "grok-3", CostMultiplier: 1, Reasoning: true},
	{ID: "grok-4", GrokModel: "grok-4", ModelMode: "MODEL_MODE_EXPERT", RateLimitModel: "grok-4", CostMultiplier: 2, Reasoning: true},
	{ID: "grok-4-fast", GrokModel: "grok-4-mini-thinking-tahoe", ModelMode: "MODEL_MODE_GROK_4_MINI_THINKING", RateLimitModel: "grok-4-fast", CostMultiplier: 1, Reasoning: true},
	{ID: "grok-4-expert", GrokModel: "grok-4", ModelMode: "MODEL_MODE_EXPERT", RateLimitModel: "grok-4", CostMultiplier: 2, Reasoning: true},
	{ID: heavyModelID, GrokModel: "grok-4-heavy", ModelMode: "MODEL_MODE_HEAVY", RateLimitModel: heavyRateLimitModel, CostMultiplier: 4, RequiresSuper: true, Reasoning: true},
	{ID: "grok-imagine-0.9", GrokModel: "grok-3", ModelMode: "MODEL_MODE_AUTO", RateLimitModel: "grok-3", CostMultiplier: 1, Video: true},
}

var modelsByID = func() map[string]Model {
	byID := make(map[string]Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	return byID
}()

// LookupModel resolves a public model id.
func LookupModel(id string) (Model, bool) {
	m, ok := modelsByID[id]
	return m, ok
}
