package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/models"
	"github.com/kilupskalvis/listings/internal/remote"
	"github.com/spf13/cobra"
)

// houseAPI is the set of listing operations the house commands use. It is
// served by a local *listing.Service or by a remote server.
type houseAPI interface {
	Get(ctx context.Context, id uint64) (*models.House, error)
	List(ctx context.Context) ([]*models.House, error)
	ListAvailable(ctx context.Context) ([]*models.House, error)
	Search(ctx context.Context, query string) ([]*models.House, error)
	SearchPrice(ctx context.Context, price uint64) ([]*models.House, error)
	SortByOwnerName(ctx context.Context) ([]*models.House, error)
	Availability(ctx context.Context, id uint64) (bool, error)
	EffectiveAvailability(ctx context.Context, id uint64) (bool, error)
	UpdateHistory(ctx context.Context, id uint64) ([]models.ChangeRecord, error)
	Create(ctx context.Context, p models.HousePayload) (*models.House, error)
	Update(ctx context.Context, id uint64, p models.HousePayload) (*models.House, error)
	Buy(ctx context.Context, id uint64) (*models.House, error)
	BuyWithPayload(ctx context.Context, id uint64, p models.HousePayload) (*models.House, error)
	Delete(ctx context.Context, id uint64) (*models.House, error)
	SetAvailable(ctx context.Context, id uint64) (*models.House, error)
	SetUnavailable(ctx context.Context, id uint64) (*models.House, error)
	SetPrice(ctx context.Context, id uint64, price uint64) (*models.House, error)
}

var (
	_ houseAPI = (*listing.Service)(nil)
	_ houseAPI = (*remote.HTTPClient)(nil)
)

var (
	houseAs     string
	houseJSON   bool
	houseRemote string
	houseToken  string

	payloadOwner     string
	payloadType      string
	payloadLocation  string
	payloadUnits     uint64
	payloadPrice     uint64
	payloadAvailable bool
)

var houseCmd = &cobra.Command{
	Use:   "house",
	Short: "Work with house listings",
	Long: `Query and change house listings in the configured store.

Mutations run as the principal given by --as (env: LISTINGS_AS, default $USER).
With --remote the commands go to a running server instead and act as the
principal of --token.

Examples:
  listings house add --owner Alice --type Bungalow --location Nairobi --units 3 --price 500
  listings house list
  listings house search Bungalow
  listings house buy 1 --as bob
  listings house list --remote https://listings.example.com --token lst_...`,
}

func addPayloadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&payloadOwner, "owner", "", "Owner name")
	f.StringVar(&payloadType, "type", "", "House type")
	f.StringVar(&payloadLocation, "location", "", "Location")
	f.Uint64Var(&payloadUnits, "units", 0, "Available units")
	f.Uint64Var(&payloadPrice, "price", 0, "Price")
	f.BoolVar(&payloadAvailable, "available", true, "Availability flag")
}

func payloadFromFlags() models.HousePayload {
	return models.HousePayload{
		OwnerName:      payloadOwner,
		HouseType:      payloadType,
		Location:       payloadLocation,
		AvailableUnits: payloadUnits,
		Price:          payloadPrice,
		Availability:   payloadAvailable,
	}
}

func parseID(arg string) uint64 {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		exitError("invalid house id %q", arg)
	}
	return id
}

// houseRun runs fn against the local store as the --as principal, or
// against --remote, and prints its result.
func houseRun(cmd *cobra.Command, fn func(ctx context.Context, api houseAPI) (any, error)) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var api houseAPI
	if houseRemote != "" {
		if houseToken == "" {
			exitError("--token is required with --remote")
		}
		api = remote.NewHTTPClient(houseRemote, houseToken, nil)
	} else {
		c := initContext(nil)
		defer c.Close()
		api = c.Service
		if houseAs != "" {
			ctx = listing.WithCaller(ctx, houseAs)
		}
	}

	result, err := fn(ctx, api)
	if err != nil {
		exitError("%v", err)
	}
	if err := printResult(cmd.OutOrStdout(), result, houseJSON); err != nil {
		exitError("%v", err)
	}
}

func houseCommand(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, svc houseAPI, args []string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		Run: func(cmd *cobra.Command, args []string) {
			houseRun(cmd, func(ctx context.Context, api houseAPI) (any, error) {
				return fn(ctx, api, args)
			})
		},
	}
}

// payloadGiven reports whether any payload flag was set on cmd.
func payloadGiven(cmd *cobra.Command) bool {
	for _, name := range []string{"owner", "type", "location", "units", "price", "available"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func init() {
	pf := houseCmd.PersistentFlags()
	pf.StringVar(&houseAs, "as", envOrDefault("LISTINGS_AS", os.Getenv("USER")), "Principal to act as")
	pf.BoolVar(&houseJSON, "json", false, "Print JSON")
	pf.StringVar(&houseRemote, "remote", os.Getenv("LISTINGS_REMOTE"), "Server URL; use the HTTP API instead of the local store")
	pf.StringVar(&houseToken, "token", os.Getenv("LISTINGS_TOKEN"), "Bearer token for --remote")

	addCmd := houseCommand("add", "Create a listing", cobra.NoArgs,
		func(ctx context.Context, svc houseAPI, _ []string) (any, error) {
			return svc.Create(ctx, payloadFromFlags())
		})
	addPayloadFlags(addCmd)

	updateCmd := houseCommand("update <id>", "Replace the fields of a listing", cobra.ExactArgs(1),
		func(ctx context.Context, svc houseAPI, args []string) (any, error) {
			return svc.Update(ctx, parseID(args[0]), payloadFromFlags())
		})
	addPayloadFlags(updateCmd)

	// Under the overwrite buy policy the payload flags carry the new fields.
	buyCmd := &cobra.Command{
		Use:   "buy <id>",
		Short: "Buy one unit",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withPayload := payloadGiven(cmd)
			houseRun(cmd, func(ctx context.Context, api houseAPI) (any, error) {
				id := parseID(args[0])
				if withPayload {
					return api.BuyWithPayload(ctx, id, payloadFromFlags())
				}
				return api.Buy(ctx, id)
			})
		},
	}
	addPayloadFlags(buyCmd)

	searchPriceCmd := houseCommand("search-price <amount>", "List listings priced at exactly amount", cobra.ExactArgs(1),
		func(ctx context.Context, svc houseAPI, args []string) (any, error) {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid amount %q", args[0])
			}
			return svc.SearchPrice(ctx, amount)
		})

	var newPrice uint64
	setPriceCmd := houseCommand("set-price <id>", "Change the price of a listing", cobra.ExactArgs(1),
		func(ctx context.Context, svc houseAPI, args []string) (any, error) {
			return svc.SetPrice(ctx, parseID(args[0]), newPrice)
		})
	setPriceCmd.Flags().Uint64Var(&newPrice, "price", 0, "New price")
	setPriceCmd.MarkFlagRequired("price")

	houseCmd.AddCommand(
		addCmd,
		updateCmd,
		buyCmd,
		searchPriceCmd,
		setPriceCmd,
		houseCommand("get <id>", "Show a listing", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				return svc.Get(ctx, parseID(args[0]))
			}),
		houseCommand("list", "List all listings", cobra.NoArgs,
			func(ctx context.Context, svc houseAPI, _ []string) (any, error) {
				return svc.List(ctx)
			}),
		houseCommand("available", "List listings with a unit for sale", cobra.NoArgs,
			func(ctx context.Context, svc houseAPI, _ []string) (any, error) {
				return svc.ListAvailable(ctx)
			}),
		houseCommand("sorted", "List listings ordered by owner name", cobra.NoArgs,
			func(ctx context.Context, svc houseAPI, _ []string) (any, error) {
				return svc.SortByOwnerName(ctx)
			}),
		houseCommand("search <query>", "Find listings by owner name or house type", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				return svc.Search(ctx, args[0])
			}),
		houseCommand("history <id>", "Show the change history of a listing", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				return svc.UpdateHistory(ctx, parseID(args[0]))
			}),
		houseCommand("availability <id>", "Show the stored and effective availability", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				id := parseID(args[0])
				stored, err := svc.Availability(ctx, id)
				if err != nil {
					return nil, err
				}
				effective, err := svc.EffectiveAvailability(ctx, id)
				if err != nil {
					return nil, err
				}
				return availability{ID: id, Available: stored, Effective: effective}, nil
			}),
		houseCommand("delete <id>", "Delete a listing", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				return svc.Delete(ctx, parseID(args[0]))
			}),
		houseCommand("set-available <id>", "Set the availability flag", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				return svc.SetAvailable(ctx, parseID(args[0]))
			}),
		houseCommand("set-unavailable <id>", "Clear the availability flag", cobra.ExactArgs(1),
			func(ctx context.Context, svc houseAPI, args []string) (any, error) {
				return svc.SetUnavailable(ctx, parseID(args[0]))
			}),
	)
}

type availability struct {
	ID        uint64 `json:"id"`
	Available bool   `json:"available"`
	Effective bool   `json:"effective"`
}

func printResult(w io.Writer, result any, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	switch v := result.(type) {
	case *models.House:
		printHouse(w, v)
	case []*models.House:
		printHouses(w, v)
	case []models.ChangeRecord:
		printHistory(w, v)
	case availability:
		printAvailability(w, v)
	default:
		return fmt.Errorf("cannot print %T", result)
	}
	return nil
}

func printHouse(w io.Writer, h *models.House) {
	color.New(color.FgYellow).Fprintf(w, "house %d", h.ID)
	if h.EffectivelyAvailable() {
		color.New(color.FgGreen).Fprint(w, " (available)")
	} else {
		color.New(color.FgRed).Fprint(w, " (unavailable)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Owner:    %s\n", h.OwnerName)
	fmt.Fprintf(w, "Type:     %s\n", h.HouseType)
	fmt.Fprintf(w, "Location: %s\n", h.Location)
	fmt.Fprintf(w, "Price:    %d\n", h.Price)
	fmt.Fprintf(w, "Units:    %d\n", h.AvailableUnits)
	if h.Realtor != "" {
		fmt.Fprintf(w, "Realtor:  %s\n", h.Realtor)
	}
	fmt.Fprintf(w, "Created:  %s\n", formatTimestamp(h.CreatedAt))
	if h.UpdatedAt != nil {
		fmt.Fprintf(w, "Updated:  %s\n", formatTimestamp(*h.UpdatedAt))
	}
	if len(h.Buyers) > 0 {
		fmt.Fprintf(w, "Buyers:   %s\n", strings.Join(h.Buyers, ", "))
	}
}

func printHouses(w io.Writer, houses []*models.House) {
	if len(houses) == 0 {
		fmt.Fprintln(w, "No houses")
		return
	}
	yellow := color.New(color.FgYellow)
	for _, h := range houses {
		yellow.Fprintf(w, "%4d  ", h.ID)
		fmt.Fprintf(w, "%-20s %-12s %-16s %10d  units=%d", h.OwnerName, h.HouseType, h.Location, h.Price, h.AvailableUnits)
		if !h.EffectivelyAvailable() {
			color.New(color.FgRed).Fprint(w, "  [unavailable]")
		}
		fmt.Fprintln(w)
	}
}

func printHistory(w io.Writer, history []models.ChangeRecord) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No history")
		return
	}
	for _, rec := range history {
		color.New(color.FgCyan).Fprintf(w, "%-8s ", rec.ChangeType)
		fmt.Fprintln(w, formatTimestamp(rec.Timestamp))
	}
}

func printAvailability(w io.Writer, a availability) {
	fmt.Fprintf(w, "house %d: flag=%t effective=%t\n", a.ID, a.Available, a.Effective)
}

func formatTimestamp(ns uint64) string {
	return time.Unix(0, int64(ns)).UTC().Format(time.RFC3339)
}
