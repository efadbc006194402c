/*
Copyright © 2025 the Floracast authors.
This file is part of Floracast.

Floracast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Floracast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Floracast.  If not, see <http://www.gnu.org/licenses/>.*/

package catalog

import "time"

// TaxonomicStatus classifies a species record relative to the reference
// backbone.
type TaxonomicStatus string

const (
	StatusAccepted   TaxonomicStatus = "accepted"
	StatusSynonym    TaxonomicStatus = "synonym"
	StatusUnresolved TaxonomicStatus = "unresolved"
)

// Species is a canonical plant record. When Status is StatusSynonym,
// AcceptedSpeciesID points to the accepted record; synonym chains are at
// most one link long.
type Species struct {
	ID                int64
	CanonicalName     string
	Genus             string
	Family            string
	BackboneID        *int64
	AuthorityIDs      map[string]string
	Status            TaxonomicStatus
	AcceptedSpeciesID *int64
	MatchMethod       *string
	UnmatchedReason   *string
}

// BackboneName is one entry of the reference name table consumed by the
// taxonomic disambiguator.
type BackboneName struct {
	BackboneID         int64
	ScientificName     string
	CanonicalForm      string
	Authorship         string
	Genus              string
	Family             string
	Status             TaxonomicStatus
	AcceptedBackboneID *int64
}

// RawTrait is a per-source trait observation. Rows are append-only; the
// raw source vocabulary value is retained in GrowthFormRaw for audit.
type RawTrait struct {
	SpeciesID         int64
	Source            string
	GrowthForm        *string
	GrowthFormRaw     *string
	MaxHeightM        *float64
	Woodiness         *string
	NitrogenFixer     *bool
	DispersalSyndrome *string
	Deciduousness     *string
	LifespanYears     *float64
	ThreatStatus      *string
}

// Attributed pairs a chosen attribute value with the source it was chosen
// from under the consolidation precedence policy.
type Attributed[T any] struct {
	Value  T
	Source string
}

// UnifiedTrait is the one-row-per-species consolidation of RawTrait. The
// derived booleans are materialized from GrowthForm and kept consistent
// with it by the consolidator.
type UnifiedTrait struct {
	SpeciesID         int64
	GrowthForm        *Attributed[string]
	MaxHeightM        *Attributed[float64]
	Woodiness         *Attributed[string]
	NitrogenFixer     *Attributed[bool]
	DispersalSyndrome *Attributed[string]
	Deciduousness     *Attributed[string]
	LifespanYears     *Attributed[float64]
	ThreatStatus      *Attributed[string]

	IsTree    bool
	IsShrub   bool
	IsClimber bool
	IsHerb    bool
	IsPalm    bool

	BrazilNative bool
}

// Region is one cell of the TDWG level-3 world partition (~369 codes).
// Geometry is stored in the database; GeoJSON carries it across when the
// in-process locator is in use.
type Region struct {
	Code      string
	Name      string
	Continent string
	GeoJSON   []byte
}

// SpeciesRegion records membership of a species in a region. Unique on
// (SpeciesID, Code).
type SpeciesRegion struct {
	SpeciesID    int64
	Code         string
	IsNative     bool
	IsEndemic    bool
	IsIntroduced bool
	Source       string
}

// SpeciesGeometry is the materialized per-species range.
type SpeciesGeometry struct {
	SpeciesID      int64
	BBox           [4]float64 // xmin, ymin, xmax, ymax
	CentroidLon    float64
	CentroidLat    float64
	NativeAreaKm2  float64
	FullAreaKm2    float64
	NNativeRegions int
	NRegions       int

	// NativeInferred marks rows whose native range was copied from the
	// full range because no source reported native membership. The
	// native region count stays zero on such rows.
	NativeInferred bool

	// GeoJSON encodings of the unioned ranges, written with the row.
	NativeRangeGeoJSON []byte
	FullRangeGeoJSON   []byte
}

// BioVector holds the five bioclimatic scalars the recommendation core
// consumes: annual mean temperature (bio1), max temperature of the warmest
// month (bio5), min temperature of the coldest month (bio6), annual
// precipitation (bio12), and precipitation seasonality (bio15).
type BioVector struct {
	Bio1  float64 `json:"bio1"`
	Bio5  float64 `json:"bio5"`
	Bio6  float64 `json:"bio6"`
	Bio12 float64 `json:"bio12"`
	Bio15 float64 `json:"bio15"`
}

// RegionClimate is the per-region aggregate of the core bio variables.
type RegionClimate struct {
	Code string
	// Mean, Min, Max each hold the five core variables.
	Mean BioVector
	Min  BioVector
	Max  BioVector
}

// Ecoregion is a WWF terrestrial ecoregion with a climate sample taken at
// its centroid.
type Ecoregion struct {
	EcoID       int
	Name        string
	BiomeNum    int
	BiomeName   string
	Realm       string
	CentroidLon float64
	CentroidLat float64
	Climate     *BioVector
}

// SpeciesEcoregion links a species to an ecoregion with an observation
// count.
type SpeciesEcoregion struct {
	SpeciesID     int64
	EcoID         int
	NObservations int
	Source        string
}

// Occurrence is one georeferenced, quality-filtered sighting with the bio
// variables sampled at the point.
type Occurrence struct {
	UpstreamID   string
	SpeciesID    int64
	Lat          float64
	Lon          float64
	UncertaintyM float64
	Year         int
	CountryCode  string
	Climate      *BioVector
}

// EnvelopeSource tags which deriver produced a climate envelope.
type EnvelopeSource string

const (
	SourceOccurrence EnvelopeSource = "occurrence"
	SourceEcoregion  EnvelopeSource = "ecoregion"
	SourceRegion     EnvelopeSource = "region"
)

// EnvelopeQuality grades an envelope by its sample count; the thresholds
// differ per deriver.
type EnvelopeQuality string

const (
	QualityHigh   EnvelopeQuality = "high"
	QualityMedium EnvelopeQuality = "medium"
	QualityLow    EnvelopeQuality = "low"
)

// ClimateEnvelope is the climatic range within which a species is attested
// to occur. TempMin and TempMax are the absolute coldest-month minimum and
// warmest-month maximum; the percentile fields are populated only by the
// occurrence-based deriver.
type ClimateEnvelope struct {
	SpeciesID int64

	TempMean float64
	TempMin  float64
	TempMax  float64
	TempP05  *float64
	TempP95  *float64

	ColdMonthP05 *float64
	WarmMonthP95 *float64

	PrecipMean        float64
	PrecipMin         float64
	PrecipMax         float64
	PrecipSeasonality float64

	NSamples int
	Quality  EnvelopeQuality
	Notes    *string
}

// SourceConsensus grades a unified envelope by how many of the three
// derivers produced a row for the species.
type SourceConsensus string

const (
	ConsensusHigh   SourceConsensus = "high"   // all three sources present
	ConsensusMedium SourceConsensus = "medium" // two sources present
	ConsensusSingle SourceConsensus = "single" // one source present
)

// UnifiedEnvelope is the priority-chain view over the three envelope
// variants: occurrence > ecoregion > region.
type UnifiedEnvelope struct {
	ClimateEnvelope
	Source    EnvelopeSource
	Consensus SourceConsensus
}

// CrawlerRunStatus is the lifecycle of a crawler run report.
type CrawlerRunStatus string

const (
	RunRunning   CrawlerRunStatus = "running"
	RunCompleted CrawlerRunStatus = "completed"
	RunFailed    CrawlerRunStatus = "failed"
)

// CrawlerRun is the status report row emitted by every crawler run.
type CrawlerRun struct {
	ID               int64
	CrawlerName      string
	StartedAt        time.Time
	CompletedAt      *time.Time
	Status           CrawlerRunStatus
	RecordsProcessed int64
	RecordsInserted  int64
	RecordsUpdated   int64
	ErrorMessage     *string
}
