package main

import (
	"consult-backend/internal/server"
)

func main() {
	server.ApiInit()
}
