package notify

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindCreated       Kind = "created"
	KindReleased      Kind = "released"
	KindIdle          Kind = "idle"
	KindLowEfficiency Kind = "low_efficiency"
)

type Message struct {
	Kind    Kind
	Subject string
	Body    string
}

func Created(email string) Message {
	return Message{
		Kind:    KindCreated,
		Subject: "GPU reservation confirmed",
		Body:    fmt.Sprintf("Reservation for %s was accepted. You will be notified when the GPU is ready for you.", email),
	}
}

func Released(email string) Message {
	return Message{
		Kind:    KindReleased,
		Subject: "GPU reservation released",
		Body:    fmt.Sprintf("Reservation for %s was released. See you next time.", email),
	}
}

func Idle(email string) Message {
	return Message{
		Kind:    KindIdle,
		Subject: "GPU idle",
		Body:    fmt.Sprintf("%s, the GPU you hold looks idle. Please check the server and release it if you are done.", email),
	}
}

func LowEfficiency(email string) Message {
	return Message{
		Kind:    KindLowEfficiency,
		Subject: "GPU running at low efficiency",
		Body:    fmt.Sprintf("%s, your job is using the GPU at low efficiency. Please check it.", email),
	}
}

// Deliver sends msg to the given address through m.
func Deliver(ctx context.Context, m Mailer, to string, msg Message) error {
	return m.Send(ctx, to, msg.Subject, msg.Body)
}
