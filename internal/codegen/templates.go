package codegen

import (
	"fmt"
	"strings"

	"genebench/internal/dataset"
)

// StepKind classifies a step description for fallback template selection.
type StepKind string

const (
	KindDownload      StepKind = "download"
	KindDifferential  StepKind = "differential_expression"
	KindClustering    StepKind = "clustering"
	KindVisualization StepKind = "visualization"
	KindReport        StepKind = "report"
	KindDefault       StepKind = "default"
)

// classifier maps keyword groups to step kinds. Order matters: the first
// group with a hit wins, so data acquisition outranks the analysis kinds
// that often share vocabulary with it.
var classifier = []struct {
	kind     StepKind
	keywords []string
}{
	{KindDownload, []string{"download", "load", "fetch", "preprocess", "normaliz", "quality control", "qc", "filter"}},
	{KindDifferential, []string{"differential", "deg", "deseq", "limma", "fold change", "differentially expressed"}},
	{KindClustering, []string{"cluster", "pca", "umap", "t-sne", "tsne", "dimensionality"}},
	{KindVisualization, []string{"plot", "visualiz", "figure", "volcano", "heatmap", "chart"}},
	{KindReport, []string{"save", "report", "export", "summar", "write results"}},
}

// ClassifyStep returns the template kind for a step description.
func ClassifyStep(description string) StepKind {
	lower := strings.ToLower(description)
	for _, c := range classifier {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.kind
			}
		}
	}
	return KindDefault
}

// FallbackCode synthesizes executable code for a step when model output is
// absent or too short. Templates reference the resolved dataset ids and the
// standard results/ and figures/ output contract.
func FallbackCode(description string, datasets []dataset.Ref) string {
	ids := datasetIDs(datasets)
	firstID := "dataset"
	if len(ids) > 0 {
		firstID = ids[0]
	}

	header := fmt.Sprintf("# Step: %s\n", strings.TrimSpace(description))

	switch ClassifyStep(description) {
	case KindDownload:
		return header + fmt.Sprintf(`import GEOparse
import pandas as pd

expression_data = {}
sample_metadata = {}
for gse_id in [%s]:
    gse = GEOparse.get_GEO(geo=gse_id, destdir="data")
    expr = gse.pivot_samples("VALUE")
    meta = gse.phenotype_data
    expression_data[gse_id] = expr
    sample_metadata[gse_id] = meta
    print(f"{gse_id}: {expr.shape[0]} genes x {expr.shape[1]} samples")
`, quoteList(ids))

	case KindDifferential:
		return header + fmt.Sprintf(`import pandas as pd
import numpy as np
from scipy import stats

expr = expression_data["%s"]
meta = sample_metadata["%s"]

groups = meta.iloc[:, 0].astype(str)
labels = groups.unique()[:2]
a = expr.loc[:, groups == labels[0]]
b = expr.loc[:, groups == labels[1]]

t_stat, p_values = stats.ttest_ind(a, b, axis=1)
results = pd.DataFrame({
    "gene": expr.index,
    "log2fc": np.log2(a.mean(axis=1) + 1) - np.log2(b.mean(axis=1) + 1),
    "t_statistic": t_stat,
    "p_value": p_values,
}).sort_values("p_value")
results.to_csv("results/differential_expression.csv", index=False)
print(results.head(20))
`, firstID, firstID)

	case KindClustering:
		return header + fmt.Sprintf(`import pandas as pd
from sklearn.decomposition import PCA
from sklearn.preprocessing import StandardScaler

expr = expression_data["%s"]
scaled = StandardScaler().fit_transform(expr.T)
pca = PCA(n_components=2)
coords = pca.fit_transform(scaled)

clusters = pd.DataFrame(coords, columns=["PC1", "PC2"], index=expr.columns)
clusters.to_csv("results/pca_coordinates.csv")
print(f"Explained variance: {pca.explained_variance_ratio_}")
`, firstID)

	case KindVisualization:
		return header + fmt.Sprintf(`import matplotlib.pyplot as plt
import seaborn as sns

expr = expression_data["%s"]
fig, ax = plt.subplots(figsize=(10, 8))
sns.heatmap(expr.iloc[:50, :], cmap="vlag", ax=ax)
ax.set_title("Expression heatmap: %s")
fig.tight_layout()
fig.savefig("figures/expression_heatmap.png", dpi=150)
plt.close(fig)
`, firstID, firstID)

	case KindReport:
		return header + `import os
import pandas as pd

summary = []
for name in sorted(os.listdir("results")):
    path = os.path.join("results", name)
    if name.endswith(".csv"):
        df = pd.read_csv(path)
        summary.append({"file": name, "rows": len(df), "columns": len(df.columns)})

report = pd.DataFrame(summary)
report.to_csv("results/analysis_summary.csv", index=False)
print(report)
`

	default:
		return header + fmt.Sprintf(`# Available datasets: %s
# expression_data and sample_metadata are keyed by dataset id.
for gse_id, expr in expression_data.items():
    print(f"{gse_id}: {expr.shape[0]} genes x {expr.shape[1]} samples")
`, strings.Join(idsOrPlaceholder(ids), ", "))
	}
}

func datasetIDs(datasets []dataset.Ref) []string {
	var ids []string
	for _, d := range datasets {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func idsOrPlaceholder(ids []string) []string {
	if len(ids) == 0 {
		return []string{"none resolved"}
	}
	return ids
}

func quoteList(ids []string) string {
	if len(ids) == 0 {
		return `"GSE_UNKNOWN"`
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return strings.Join(quoted, ", ")
}
