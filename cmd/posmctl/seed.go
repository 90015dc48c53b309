package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"posmdesk/internal/app"
	"posmdesk/internal/domain/reference"
)

type demoDealer struct {
	code, name, depot, territory string
	lat, lng                     string
}

var (
	demoDepots      = []string{"Almaty Central", "Astana North", "Shymkent South"}
	demoTerritories = []string{"Almaty City", "Almaty Region", "Astana City", "Turkestan Region"}
	demoPosmTypes   = []string{"Shelf Display", "Fridge Branding", "Lightbox", "Wobbler Set"}

	demoDealers = []demoDealer{
		{"ALA-0001", "Magnum Abay", "Almaty Central", "Almaty City", "43.2389", "76.8897"},
		{"ALA-0002", "Small Dostyk", "Almaty Central", "Almaty City", "43.2330", "76.9560"},
		{"ALA-0107", "Market Talgar", "Almaty Central", "Almaty Region", "43.3030", "77.2400"},
		{"AST-0001", "Galmart Mangilik", "Astana North", "Astana City", "51.1280", "71.4300"},
		{"AST-0015", "Anvar Saryarka", "Astana North", "Astana City", "51.1690", "71.4100"},
		{"SHY-0003", "Toimart Tauke", "Shymkent South", "Turkestan Region", "42.3170", "69.5960"},
	}
)

type seedResult struct {
	Depots  int
	Dealers int
	Rows    int
}

// seedDemo loads demo reference data. Existing rows are kept untouched.
func seedDemo(ctx context.Context, a *app.App) (*seedResult, error) {
	db := a.DB.WithContext(ctx)
	res := &seedResult{}

	depots := make([]reference.Depot, 0, len(demoDepots))
	for _, name := range demoDepots {
		depots = append(depots, reference.Depot{Name: name})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&depots).Error; err != nil {
		return nil, fmt.Errorf("seed depots: %w", err)
	}
	territories := make([]reference.Territory, 0, len(demoTerritories))
	for _, name := range demoTerritories {
		territories = append(territories, reference.Territory{Name: name})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&territories).Error; err != nil {
		return nil, fmt.Errorf("seed territories: %w", err)
	}

	depotIDs, err := idsByName(ctx, a, &reference.Depot{}, demoDepots)
	if err != nil {
		return nil, err
	}
	territoryIDs, err := idsByName(ctx, a, &reference.Territory{}, demoTerritories)
	if err != nil {
		return nil, err
	}
	res.Depots = len(depotIDs)

	dealers := make([]reference.Dealer, 0, len(demoDealers))
	for _, d := range demoDealers {
		territoryID := territoryIDs[d.territory]
		dealers = append(dealers, reference.Dealer{
			Code:        d.code,
			Name:        d.name,
			DepotID:     depotIDs[d.depot],
			TerritoryID: &territoryID,
			Latitude:    decimal.NewNullDecimal(decimal.RequireFromString(d.lat)),
			Longitude:   decimal.NewNullDecimal(decimal.RequireFromString(d.lng)),
		})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&dealers).Error; err != nil {
		return nil, fmt.Errorf("seed dealers: %w", err)
	}
	var dealerCount int64
	if err := db.Model(&reference.Dealer{}).Count(&dealerCount).Error; err != nil {
		return nil, fmt.Errorf("count dealers: %w", err)
	}
	res.Dealers = int(dealerCount)

	for _, name := range demoDepots {
		for _, posmType := range demoPosmTypes {
			if _, err := a.Ledger.EnsureRow(ctx, cliActor, depotIDs[name], posmType); err != nil {
				return nil, fmt.Errorf("seed stock row %s/%s: %w", name, posmType, err)
			}
			res.Rows++
		}
	}
	return res, nil
}

func idsByName(ctx context.Context, a *app.App, model any, names []string) (map[string]int64, error) {
	var rows []struct {
		ID   int64
		Name string
	}
	if err := a.DB.WithContext(ctx).Model(model).Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load ids: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Name] = r.ID
	}
	if len(out) != len(names) {
		return nil, fmt.Errorf("load ids: found %d of %d names", len(out), len(names))
	}
	return out, nil
}
