package elastico_test

import (
	"fmt"

	"github.com/FerroO2000/elastico"
)

func ExampleNew() {
	sender, receiver := elastico.New[int](nil)

	go func() {
		for val := range 5 {
			if err := sender.Send(val); err != nil {
				return
			}
		}
		_ = sender.Close()
	}()

	for val := range receiver.C() {
		fmt.Println(val)
	}

	// Output:
	// 0
	// 1
	// 2
	// 3
	// 4
}
