package recipients

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidflow/mailtrack/internal/sender"
)

func writeBatch(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	batch, err := LoadCSV(writeBatch(t,
		"Email,Company Name,Collection ID,Product Description\n"+
			"a@example.com,Acme Co,C-100,widgets\n"+
			"b@example.com,Bolt Ltd,C-100,widgets\n"))
	require.NoError(t, err)

	assert.Equal(t, []sender.Recipient{
		{Email: "a@example.com", Company: "Acme Co", CollectionID: "C-100", ProductDesc: "widgets"},
		{Email: "b@example.com", Company: "Bolt Ltd", CollectionID: "C-100", ProductDesc: "widgets"},
	}, batch)
}

func TestLoadCSVHeaderCaseInsensitive(t *testing.T) {
	batch, err := LoadCSV(writeBatch(t,
		"EMAIL,company name\n"+
			"a@example.com,Acme Co\n"))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "Acme Co", batch[0].Company)
}

func TestLoadCSVSkipsRowsWithoutEmail(t *testing.T) {
	batch, err := LoadCSV(writeBatch(t,
		"Email,Company Name\n"+
			" ,No Address Inc\n"+
			"a@example.com,Acme Co\n"))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "a@example.com", batch[0].Email)
}

func TestLoadCSVMissingEmailColumn(t *testing.T) {
	_, err := LoadCSV(writeBatch(t, "Company Name,Collection ID\nAcme Co,C-100\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Email")
}

func TestLoadCSVEmptyFile(t *testing.T) {
	_, err := LoadCSV(writeBatch(t, ""))
	assert.Error(t, err)
}
