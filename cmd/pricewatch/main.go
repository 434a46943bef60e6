package main

import (
	"github.com/joho/godotenv"

	"collectible-pricing/internal/cli"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load(".env")
	cli.Execute()
}
