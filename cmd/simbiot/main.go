// Package main is the entry point for simbiot, which provisions a SageMaker
// execution role and hosts a clustering model behind a serverless endpoint.
//
// @title          simbiot API
// @version        1.0
// @description    Provisions the SageMaker execution role and manages serverless clustering endpoints.
// @host           localhost:8081
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
