package main

import (
	"fmt"
	"strconv"

	"github.com/Sternrassler/usda-ndb-client/pkg/pagination"
	"github.com/Sternrassler/usda-ndb-client/pkg/usda"
	"github.com/spf13/cobra"
)

// openFunc opens a typed paginator on the client.
type openFunc[T any] func(c *usda.Client, max, offset int) (*pagination.ModelPaginator[T], error)

func newListCommand[T any](a *app, use, short string, open openFunc[T], header []string, row func(T) []string) *cobra.Command {
	var max, offset int

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAPIKey(); err != nil {
				return err
			}
			p, err := open(a.ndb, max, offset)
			if err != nil {
				return err
			}
			items, err := p.Collect(cmd.Context())
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), a.v.GetString("output"), items, header, row)
		},
	}

	addWindowFlags(cmd, &max, &offset)
	return cmd
}

func addWindowFlags(cmd *cobra.Command, max, offset *int) {
	cmd.Flags().IntVar(max, "max", 50, "maximum number of items (0 for all)")
	cmd.Flags().IntVar(offset, "offset", 0, "position of the first item")
}

func newSearchCommand(a *app) *cobra.Command {
	var (
		max, offset int
		opts        usda.SearchOptions
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search foods by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAPIKey(); err != nil {
				return err
			}
			p, err := a.ndb.SearchFoods(args[0], max, offset, opts)
			if err != nil {
				return err
			}
			foods, err := p.Collect(cmd.Context())
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), a.v.GetString("output"), foods, foodHeader, foodRow)
		},
	}

	addWindowFlags(cmd, &max, &offset)
	cmd.Flags().StringVar(&opts.FoodGroup, "food-group", "", "restrict to a food group ID")
	cmd.Flags().StringVar(&opts.DataSource, "data-source", "", `"Standard Reference" or "Branded Food Products"`)
	cmd.Flags().BoolVar(&opts.SortByRelevance, "relevance", false, "sort by relevance instead of name")
	return cmd
}

func newReportCommand(a *app) *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "report NDBNO",
		Short: "Show the nutrient report of one food",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAPIKey(); err != nil {
				return err
			}
			report, err := a.ndb.FoodReport(cmd.Context(), args[0], usda.ReportType(typ))
			if err != nil {
				return err
			}
			return renderReports(cmd.OutOrStdout(), a.v.GetString("output"), []usda.FoodReport{report}, false)
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", string(usda.ReportBasic), "report type (b=basic, f=full, s=stats)")
	return cmd
}

func newReportV2Command(a *app) *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "report-v2 NDBNO...",
		Short: "Show the V2 nutrient reports of one or more foods",
		Long: fmt.Sprintf(`Show the V2 nutrient reports of one or more foods.

More than %d foods are split into parallel requests.`, usda.MaxFoodsPerV2Report),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAPIKey(); err != nil {
				return err
			}
			reports, err := a.ndb.FoodReportsV2(cmd.Context(), usda.ReportType(typ), args...)
			if err != nil {
				return err
			}
			return renderReports(cmd.OutOrStdout(), a.v.GetString("output"), reports, true)
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", string(usda.ReportBasic), "report type (b=basic, f=full, s=stats)")
	return cmd
}

func newNutrientReportCommand(a *app) *cobra.Command {
	var (
		max, offset int
		opts        usda.NutrientReportOptions
	)

	cmd := &cobra.Command{
		Use:   "nutrient-report NUTRIENT_ID...",
		Short: "List foods with their values for the given nutrients",
		Long: fmt.Sprintf(`List foods with their values for the given nutrients.

At most %d nutrients and %d food groups can be requested.`, usda.MaxNutrientsPerReport, usda.MaxFoodGroupsPerReport),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAPIKey(); err != nil {
				return err
			}
			ids := make([]int, 0, len(args))
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid nutrient ID %q", arg)
				}
				ids = append(ids, id)
			}

			p, err := a.ndb.NutrientReport(ids, max, offset, opts)
			if err != nil {
				return err
			}
			foods, err := p.Collect(cmd.Context())
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), a.v.GetString("output"), foods, nutrientReportHeader(foods), nutrientReportRow)
		},
	}

	addWindowFlags(cmd, &max, &offset)
	cmd.Flags().StringSliceVar(&opts.FoodGroups, "food-group", nil, "restrict to food group IDs")
	cmd.Flags().StringSliceVar(&opts.NDBNOs, "ndbno", nil, "restrict to specific foods")
	cmd.Flags().BoolVar(&opts.Subset, "subset", false, "only the abridged list of common foods")
	cmd.Flags().BoolVar(&opts.SortByContent, "sort-by-content", false, "sort by nutrient content instead of name")
	return cmd
}

func newCacheClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cache-clear",
		Short: "Delete all cached NDB responses from Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.transport.Cache()
			if c == nil {
				return fmt.Errorf("no cache configured (use --redis)")
			}
			n, err := c.Flush(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cached responses\n", n)
			return nil
		},
	}
}
