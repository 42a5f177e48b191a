// Package mocks holds gomock doubles for the store and source interfaces.
//
// To regenerate after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=record_store_mock.go github.com/amishk599/jobtracker/internal/model RecordStore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=searcher_mock.go github.com/amishk599/jobtracker/internal/model Searcher
