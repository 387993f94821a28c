package excel

// ReaderConfig controls how raw cells are interpreted
type ReaderConfig struct {
	// Sheet to read from workbooks; empty means the first sheet
	Sheet string `json:"sheet"`
	// MissingTokens are cell values read as missing (compared after trimming)
	MissingTokens []string `json:"missing_tokens"`
}

// DefaultReaderConfig returns the missing-value conventions of the survey exports
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		MissingTokens: []string{"", "NA", "NaN", "nan", "."},
	}
}

func (c ReaderConfig) isMissing(cell string) bool {
	for _, tok := range c.MissingTokens {
		if cell == tok {
			return true
		}
	}
	return false
}
