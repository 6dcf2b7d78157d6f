package usecase

// ModelInfo is one entry of the model listing surfaces.
type ModelInfo struct {
	ID      string
	Backend string
}

// ListModels enumerates every model served by a functional backend, with
// backend-qualified ids so clients can address a specific connector.
func (u *ChatUseCase) ListModels() []ModelInfo {
	var out []ModelInfo
	for _, b := range u.deps.Backends.FunctionalBackends() {
		for _, m := range u.deps.Backends.Models(b) {
			out = append(out, ModelInfo{ID: b + ":" + m, Backend: b})
		}
	}
	return out
}
