package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/burnet/burnet/pkg/telemetry"
)

func ExampleEventPublisher_Subscribe() {
	tel, err := telemetry.NewTelemetry(telemetry.TestConfig())
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("%s: %s\n", e.Type, e.Message)
	}, telemetry.FilterByTaskID(7))

	_ = tel.Events.PublishTaskStarted(7, "fedora")
	_ = tel.Events.PublishTaskStarted(8, "fedora")
	_ = tel.Events.PublishTaskFinished(7, "fedora", "cloned fedora", 10*time.Millisecond)

	// Output:
	// task.started: Task 7 started on fedora
	// task.finished: cloned fedora
}
