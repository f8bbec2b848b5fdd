// Command pricecheck exercises the futures ticker API and the chat intent
// helpers from the command line.
//
//	pricecheck                        # popular pairs
//	pricecheck -q "price of ethusdt"  # classify a question and fetch what it would attach
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rickgao/trader-chat/internal/config"
	"github.com/rickgao/trader-chat/internal/intent"
	"github.com/rickgao/trader-chat/internal/prices"
)

func main() {
	baseURL := flag.String("url", config.DefaultPricesURL, "ticker API base URL")
	question := flag.String("q", "", "chat question to classify")
	flag.Parse()

	client := prices.NewClient(*baseURL, prices.WithTimeout(15*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *question != "" {
		fmt.Println("=== Classifying question ===")
		related := intent.IsTradingRelated(*question)
		fmt.Printf("Trading related: %v\n", related)
		symbol, ok := intent.ExtractSymbol(*question)
		fmt.Printf("Symbol: %q (found: %v)\n", symbol, ok)
		if !related {
			fmt.Println("No price context would be attached.")
			return
		}

		if ok {
			fmt.Printf("\n=== GetPrices (%s) ===\n", symbol)
			tickers, err := client.GetPrices(ctx, symbol)
			if err != nil {
				log.Fatalf("GetPrices failed: %v", err)
			}
			fmt.Println(prices.FormatForDisplay(tickers, time.Now()))
			return
		}
	}

	fmt.Println("=== GetPopularPrices ===")
	start := time.Now()
	tickers, err := client.GetPopularPrices(ctx)
	if err != nil {
		log.Fatalf("GetPopularPrices failed: %v", err)
	}
	fmt.Printf("Fetched %d of %d pairs in %v\n", len(tickers), len(prices.PopularSymbols), time.Since(start).Round(time.Millisecond))
	fmt.Println(prices.FormatForDisplay(tickers, time.Now()))

	fmt.Println("\n=== GetPrices (all symbols) ===")
	all, err := client.GetPrices(ctx, "")
	if err != nil {
		log.Fatalf("GetPrices failed: %v", err)
	}
	fmt.Printf("Exchange lists %d pairs, showing first %d:\n", len(all), prices.MaxDisplayTickers)
	for _, line := range prices.FormatLines(all) {
		fmt.Printf("  %s\n", line)
	}
}
