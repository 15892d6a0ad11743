package mocks

//go:generate mockgen -source=./../transport/types.go -destination=./transportMocks/gateway_mock.go -package=transportMocks
//go:generate mockgen -source=./../wallet/types.go -destination=./walletMocks/engine_mock.go -package=walletMocks
