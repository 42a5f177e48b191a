package main

import (
	"github.com/spf13/cobra"

	"github.com/amishk599/jobtracker/internal/httpapi"
	"github.com/amishk599/jobtracker/internal/model"
)

// queryFlags are shared by commands that run a single search.
type queryFlags struct {
	location string
	keyword  string
	role     string
	minPay   int
	maxPay   int
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.location, "location", httpapi.DefaultLocation, "location to search")
	cmd.Flags().StringVar(&f.keyword, "keyword", httpapi.DefaultKeyword, "search keyword")
	cmd.Flags().StringVar(&f.role, "role", "", "position title (defaults to the keyword)")
	cmd.Flags().IntVar(&f.minPay, "min-pay", httpapi.DefaultMinPay, "minimum pay, 0 for no bound")
	cmd.Flags().IntVar(&f.maxPay, "max-pay", 0, "maximum pay, 0 for no bound")
}

func (f *queryFlags) query() model.Query {
	q := model.Query{Location: f.location, Keyword: f.keyword, Role: f.role}
	if f.minPay > 0 {
		minPay := f.minPay
		q.MinPay = &minPay
	}
	if f.maxPay > 0 {
		maxPay := f.maxPay
		q.MaxPay = &maxPay
	}
	return q
}
