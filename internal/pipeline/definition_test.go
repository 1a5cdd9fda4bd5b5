package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleDefinition = `
name: ecommerce-dwh-etl
acceptance_threshold: 0.9
poll_interval: 30s
max_wait: 30m
jobs:
  ecommerce-dwh-dev-data-processing:
    image: ghcr.io/ecomdwh/processing:1.4.0
    command: [python, -m, processing]
stages:
  - name: crawl
    job: ecommerce-dwh-${ENVIRONMENT}-raw-data-crawler
  - name: process
    job: ecommerce-dwh-${ENVIRONMENT}-data-processing
    args:
      --raw_data_bucket: ${BUCKET:raw}
      --processed_data_bucket: ${BUCKET:processed}
      --database_name: ecommerce_catalog_${ENVIRONMENT}
      --run_id: ${RUN_ID}
      --owner: ${ENV:DWH_OWNER}
    gate:
      tables:
        - table: customers
          bucket: processed
          key: customers/${RUN_ID}.csv
        - table: orders
          bucket: processed
          key: orders/orders.csv
          references: [customers]
`

func testVars() Vars {
	return Vars{
		RunID:       "run-7",
		Environment: "dev",
		LookupEnv: func(k string) (string, bool) {
			if k == "DWH_OWNER" {
				return "data-eng", true
			}
			return "", false
		},
		Bucket: func(alias string) string { return "ecommerce-dwh-" + alias },
	}
}

func TestParseAndResolveDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(exampleDefinition))
	require.NoError(t, err)
	assert.Equal(t, 0.9, def.Threshold())
	assert.Equal(t, 30*time.Second, def.PollInterval)
	assert.Equal(t, 30*time.Minute, def.MaxWait)
	_, err = def.Jobs.Lookup("ecommerce-dwh-dev-data-processing")
	require.NoError(t, err)

	stages, err := def.Resolve(testVars(), nil)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "ecommerce-dwh-dev-raw-data-crawler", stages[0].JobName)

	process := stages[1]
	assert.Equal(t, map[string]string{
		"--raw_data_bucket":       "ecommerce-dwh-raw",
		"--processed_data_bucket": "ecommerce-dwh-processed",
		"--database_name":         "ecommerce_catalog_dev",
		"--run_id":                "run-7",
		"--owner":                 "data-eng",
	}, process.Args)
	require.Len(t, process.Gate, 2)
	assert.Equal(t, "ecommerce-dwh-processed", process.Gate[0].Bucket)
	assert.Equal(t, "customers/run-7.csv", process.Gate[0].Key)
	assert.Equal(t, []string{"customers"}, process.Gate[1].References)
}

func TestResolveSkipsStages(t *testing.T) {
	def, err := ParseDefinition([]byte(exampleDefinition))
	require.NoError(t, err)

	stages, err := def.Resolve(testVars(), []string{"crawl"})
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "process", stages[0].Name)

	_, err = def.Resolve(testVars(), []string{"publish"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"publish"`)
}

func TestDefinitionThresholdDefaultsToAllChecks(t *testing.T) {
	def, err := ParseDefinition([]byte("name: p\nstages:\n  - name: a\n    job: j\n"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, def.Threshold())
}

func TestDefinitionValidation(t *testing.T) {
	cases := map[string]string{
		"no stages":        "name: p\nstages: []\n",
		"missing job":      "name: p\nstages:\n  - name: a\n",
		"duplicate stages": "name: p\nstages:\n  - {name: a, job: j}\n  - {name: a, job: k}\n",
		"bad threshold":    "name: p\nacceptance_threshold: 1.5\nstages:\n  - {name: a, job: j}\n",
		"dangling reference": `name: p
stages:
  - name: a
    job: j
    gate:
      tables:
        - {table: orders, bucket: processed, key: o.csv, references: [customers]}
`,
		"interval above wait": "name: p\npoll_interval: 1h\nmax_wait: 1m\nstages:\n  - {name: a, job: j}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitionNamesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: p\nstages: []\n"), 0o600))
	_, err := LoadDefinition(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
