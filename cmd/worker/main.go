package main

import (
	"consult-backend/internal/worker"
)

func main() {
	worker.Run()
}
