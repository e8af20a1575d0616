package config

import "github.com/joho/godotenv"

var loadDotEnv = func() error {
	return godotenv.Load()
}
