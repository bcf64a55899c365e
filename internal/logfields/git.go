package logfields

import "go.uber.org/zap"

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func Actor(val string) zap.Field {
	return zap.String("git.actor", val)
}

func DeliveryID(val string) zap.Field {
	return zap.String("github.delivery_id", val)
}

func Room(val string) zap.Field {
	return zap.String("chat.room", val)
}

func Fingerprint(val string) zap.Field {
	return zap.String("event_fingerprint", val)
}
