// Command diversity-probe runs the same registry search several times and
// reports how much consecutive samples overlap.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blockedby/prospect-os/internal/config"
	"github.com/blockedby/prospect-os/internal/location"
	"github.com/blockedby/prospect-os/internal/logger"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/sirene"
)

func main() {
	runs := flag.Int("runs", 5, "number of consecutive searches")
	count := flag.Int("count", 10, "companies requested per search")
	sector := flag.String("sector", "", "APE sector code, e.g. 62.01Z")
	where := flag.String("location", "", "city, district or postal code")
	brackets := flag.String("brackets", "", "comma-separated headcount bracket codes")
	flag.Parse()

	if *runs < 2 || *count <= 0 {
		fmt.Println("usage: diversity-probe -runs N (N >= 2) -count C [-sector CODE] [-location CITY] [-brackets 21,22]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		fmt.Printf("error initializing logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine := sirene.NewEngine(
		sirene.NewClient(cfg.RegistryBaseURL, cfg.RegistryTimeout),
		location.Default(),
		nil,
		sirene.OptionsFromConfig(cfg),
		logger.Get(),
	)

	filters := models.SearchFilters{
		SectorCode: *sector,
		Location:   *where,
		Count:      *count,
	}
	if *brackets != "" {
		filters.Brackets = strings.Split(*brackets, ",")
	}

	var samples [][]models.Company
	for i := 1; i <= *runs; i++ {
		res, err := engine.Search(ctx, filters)
		if err != nil {
			fmt.Printf("search %d failed: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("search %d: %d companies (pool %d, failed pages %d)\n", i, len(res.Companies), res.Fetched, res.FailedPages)
		samples = append(samples, res.Companies)
	}

	r := analyze(samples)
	fmt.Println()
	for i, o := range r.Pairwise {
		fmt.Printf("overlap %d→%d: %.0f%%\n", i+1, i+2, o*100)
	}
	fmt.Printf("mean overlap: %.0f%%\n", r.MeanOverlap*100)
	fmt.Printf("distinct companies: %d of %d returned\n", r.Distinct, r.Returned)
}
