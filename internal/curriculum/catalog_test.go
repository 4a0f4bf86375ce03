package curriculum

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadDirBuildsNamesAndLabels(t *testing.T) {
	catalog, err := LoadDir("testdata", zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, "Averages", catalog.DisplayName("statistics/data_analysis/averages"))
	require.Equal(t, "Data Analysis", catalog.DisplayName("statistics/data_analysis"))
	require.Equal(t, "Linear Equations", catalog.DisplayName("/algebra/equations/linear/"))

	options := catalog.ListTopicPaths()
	require.Len(t, options, 7)
	require.Equal(t, "algebra", options[0].Path)

	var averages TopicOption
	for _, option := range options {
		if option.Path == "statistics/data_analysis/averages" {
			averages = option
		}
	}
	require.Equal(t, "Statistics › Data Analysis › Averages", averages.Label)
}

func TestDisplayNameFallsBackToHumanizedSegment(t *testing.T) {
	catalog := NewCatalog(zerolog.Nop())

	require.Equal(t, "Prime Factors", catalog.DisplayName("number/primes/prime_factors"))
	require.Equal(t, "", catalog.DisplayName("  "))
}

func TestLoadDirMissingDirectoryIsEmpty(t *testing.T) {
	catalog, err := LoadDir("testdata/does-not-exist", zerolog.Nop())
	require.NoError(t, err)
	require.Zero(t, catalog.Len())
	require.Empty(t, catalog.ListTopicPaths())
}
