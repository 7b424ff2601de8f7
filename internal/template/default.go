package template

// Default is the built-in Private Equity fund template, available even
// when no template directory is configured.
var Default = Template{
	ID:          "template_1",
	Name:        "Private Equity Fund Template",
	Description: "Comprehensive private equity fund data extraction",
	Version:     1,
	Sections: []Section{
		{
			Key:   "portfolio_summary",
			Title: "Portfolio Summary",
			Fields: []string{
				"general_partner",
				"fund_name",
				"fund_currency",
				"total_commitments",
				"total_drawdowns",
				"remaining_commitments",
				"total_distributions",
				"dpi",
				"rvpi",
				"tvpi",
				"net_irr",
				"gross_irr",
			},
		},
		{
			Key:       "schedule_of_investments",
			Title:     "Schedule of Investments",
			Repeating: true,
			Fields: []string{
				"company_name",
				"investment_date",
				"industry",
				"invested_capital",
				"ownership_pct",
				"current_value",
				"status",
			},
		},
		{
			Key:   "fund_metadata",
			Title: "Fund Metadata",
			Fields: []string{
				"reporting_date",
				"number_of_investments",
				"active_portfolio_companies",
			},
		},
	},
}
