package pulse

// Custom property modifiers understood by the server.
const (
	modSetOnce  = "$setOnce"
	modInc      = "$inc"
	modMul      = "$mul"
	modMax      = "$max"
	modMin      = "$min"
	modPush     = "$push"
	modPull     = "$pull"
	modAddToSet = "$addToSet"
)

// customProperties accumulates custom user property changes until they are
// saved.
type customProperties struct {
	data map[string]any
}

func newCustomProperties() *customProperties {
	return &customProperties{data: make(map[string]any)}
}

func (p *customProperties) set(key string, value any) {
	p.data[key] = value
}

// modify records mod for key. Array modifiers accumulate values; the
// others keep the latest one.
func (p *customProperties) modify(key string, value any, mod string) {
	ops, ok := p.data[key].(map[string]any)
	if !ok {
		ops = make(map[string]any)
		p.data[key] = ops
	}
	switch mod {
	case modPush, modPull, modAddToSet:
		values, _ := ops[mod].([]any)
		ops[mod] = append(values, value)
	default:
		ops[mod] = value
	}
}

func (p *customProperties) isEmpty() bool {
	return len(p.data) == 0
}

// take returns the accumulated changes and resets.
func (p *customProperties) take() map[string]any {
	data := p.data
	p.data = make(map[string]any)
	return data
}

// UserData edits custom user properties. Changes are sent by Save.
//
//	c.UserData().Increment("login_count").PushUnique("category", "IT").Save()
type UserData struct {
	c *Client
}

// UserData returns the custom property editor of c.
func (c *Client) UserData() *UserData {
	return &UserData{c: c}
}

func (u *UserData) modify(key string, value any, mod string) *UserData {
	u.c.mu.Lock()
	defer u.c.mu.Unlock()
	if u.c.consent.Check(FeatureUsers) {
		u.c.customData.modify(key, value, mod)
	}
	return u
}

// Set sets key to value.
func (u *UserData) Set(key string, value any) *UserData {
	u.c.mu.Lock()
	defer u.c.mu.Unlock()
	u.c.customData.set(key, value)
	return u
}

// SetOnce sets key only if it has no value yet.
func (u *UserData) SetOnce(key string, value any) *UserData {
	return u.modify(key, value, modSetOnce)
}

func (u *UserData) Increment(key string) *UserData {
	return u.modify(key, 1, modInc)
}

func (u *UserData) IncrementBy(key string, value float64) *UserData {
	return u.modify(key, value, modInc)
}

func (u *UserData) Multiply(key string, value float64) *UserData {
	return u.modify(key, value, modMul)
}

// Max keeps the larger of the stored value and value.
func (u *UserData) Max(key string, value float64) *UserData {
	return u.modify(key, value, modMax)
}

// Min keeps the smaller of the stored value and value.
func (u *UserData) Min(key string, value float64) *UserData {
	return u.modify(key, value, modMin)
}

// Push appends value to the array under key.
func (u *UserData) Push(key string, value any) *UserData {
	return u.modify(key, value, modPush)
}

// PushUnique appends value to the array under key unless present.
func (u *UserData) PushUnique(key string, value any) *UserData {
	return u.modify(key, value, modAddToSet)
}

// Pull removes value from the array under key.
func (u *UserData) Pull(key string, value any) *UserData {
	return u.modify(key, value, modPull)
}

// Save sends the accumulated changes as user details and resets them.
func (u *UserData) Save() {
	c := u.c
	c.mu.Lock()
	defer c.mu.Unlock()

	custom := c.customData.take()
	if len(custom) == 0 || !c.readyLocked() || !c.consent.Check(FeatureUsers) {
		return
	}
	c.toQueueLocked(Request{UserDetails: &UserDetails{Custom: custom}})
}
