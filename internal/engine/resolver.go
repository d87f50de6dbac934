package engine

import "dtree-rule-compiler/internal/model"

type ActionResolver struct {
	mapping model.ActionMapping
}

func NewActionResolver(mapping model.ActionMapping) *ActionResolver {
	return &ActionResolver{mapping: mapping}
}

// Resolve maps a class to its action and the action to a destination.
// An action configured without a destination resolves to a drop.
func (r *ActionResolver) Resolve(class int) (model.Resolution, error) {
	action, ok := r.mapping.Classes[class]
	if !ok {
		return model.Resolution{}, &model.UnknownClassError{Class: class}
	}
	dest, ok := r.mapping.Actions[action]
	if !ok {
		return model.Resolution{}, &model.UndefinedDestinationError{Class: class, Action: action}
	}
	if dest == nil {
		return model.Resolution{Action: action, Drop: true}, nil
	}
	return model.Resolution{Action: action, Destination: *dest}, nil
}
