package bike

var statusTransitions = map[Status][]Status{
	StatusParked:          {StatusInUse},
	StatusInUse:           {StatusTemporaryLocked, StatusParked},
	StatusTemporaryLocked: {StatusInUse, StatusParked},
}

var hiBikeTransitions = map[HiBikeStatus][]HiBikeStatus{
	HiBikeNone:             {HiBikeAvailableForRent},
	HiBikeAvailableForRent: {HiBikeNone, HiBikeTransferred},
	HiBikeTransferred:      {HiBikeNone},
}

// CanTransition reports whether the lifecycle may move a bike from one status to another.
// Fleet states (maintenance, low battery, out of service) are owned by provisioning and
// have no lifecycle edges.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionHiBike(from, to HiBikeStatus) bool {
	for _, s := range hiBikeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
